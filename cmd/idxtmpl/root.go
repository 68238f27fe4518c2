package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idxtmpl/internal/app"
	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/config"
	"idxtmpl/internal/infra/telemetry"
)

type cliOptions struct {
	configPath string
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := cliOptions{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "idxtmpl",
		Short:         "Resolve, cache and register document store index templates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err.Error())
	})

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.String("prefix", domain.DefaultIndexPrefix, "index name prefix")
	flags.String("lib-dir", domain.DefaultLibDir, "directory holding mappings/ and settings/")
	flags.StringSlice("known-tools", nil, "tools whose tool-data index patterns are listed")
	flags.String("cache-backend", string(domain.DefaultCacheBackend), "template cache backend (bolt, sqlite or memory)")
	flags.String("cache-path", domain.DefaultCachePath, "template cache database path")
	flags.String("store-url", domain.DefaultStoreURL, "document store base URL")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	flags.String("metrics-listen", "", "serve /metrics on this address while watching")
	flags.String("log-level", domain.DefaultLogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(
		newUpdateCmd(&opts),
		newDumpCmd(&opts),
		newIndexNameCmd(&opts),
		newCacheCmd(&opts),
	)

	return root
}

// setup loads the configuration for cmd and builds the application around it.
func (o *cliOptions) setup(cmd *cobra.Command) (*app.App, domain.Config, error) {
	cfg, err := config.NewLoader(nil).Load(cmd.Context(), o.configPath, cmd.Flags())
	if err != nil {
		return nil, domain.Config{}, err
	}
	logger, err := telemetry.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, domain.Config{}, domain.E(domain.CodeInvalidArgument, "cli.setup", err.Error(), err)
	}
	o.logger = logger
	application := app.New(app.Options{
		Logger: logger,
		Stdout: cmd.OutOrStdout(),
	})
	return application, cfg, nil
}

func newUpdateCmd(opts *cliOptions) *cobra.Command {
	var updateOpts app.UpdateOptions
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Resolve every template and register it with the document store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()
			cmd.SetContext(ctx)

			application, cfg, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			err = application.Update(ctx, cfg, updateOpts)
			if err != nil && ctx.Err() != nil && updateOpts.Watch {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&updateOpts.Target, "target", "", "only register the template of this family (e.g. run, tool-data)")
	cmd.Flags().BoolVar(&updateOpts.Watch, "watch", false, "keep running and register again when template sources change")
	return cmd
}

func newDumpCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print resolved templates or index name patterns",
	}

	var format string
	templates := &cobra.Command{
		Use:   "templates",
		Short: "Print every resolved template body",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, cfg, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			return application.DumpTemplates(cmd.Context(), cfg, format)
		},
	}
	templates.Flags().StringVar(&format, "format", "json", "output format (json or yaml)")

	patterns := &cobra.Command{
		Use:   "patterns",
		Short: "Print the index name formats of every family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, cfg, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			return application.DumpPatterns(cmd.Context(), cfg)
		},
	}

	cmd.AddCommand(templates, patterns)
	return cmd
}

func newIndexNameCmd(opts *cliOptions) *cobra.Command {
	var tool string
	cmd := &cobra.Command{
		Use:   "index-name <family> <document.json|->",
		Short: "Print the index a JSON document belongs in",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageError("index-name requires a family and a document path")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			application, cfg, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			document, closeDocument, err := openDocument(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer closeDocument()

			name, err := application.IndexName(cmd.Context(), cfg, args[0], tool, document)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
			return err
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "tool name for tool-data documents")
	return cmd
}

func openDocument(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, domain.E(domain.CodeSourceFile, "cli.index_name", err.Error(), err)
	}
	return f, func() { _ = f.Close() }, nil
}

func newCacheCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the template cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, cfg, err := opts.setup(cmd)
			if err != nil {
				return err
			}
			return application.ListCache(cmd.Context(), cfg)
		},
	})
	return cmd
}
