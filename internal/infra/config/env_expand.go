package config

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandEnv substitutes environment references in the scalar values of a YAML config.
// It understands $VAR, ${VAR} and ${VAR:-default}; "$$" is a literal dollar sign.
// Unset variables without a default expand to "" and are reported, sorted.
func expandEnv(raw []byte) (string, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return "", nil, fmt.Errorf("parse config: %w", err)
	}

	e := envExpander{lookup: os.LookupEnv, missing: make(map[string]struct{})}
	e.walk(&root)

	expanded, err := yaml.Marshal(&root)
	if err != nil {
		return "", nil, fmt.Errorf("encode expanded config: %w", err)
	}
	return string(expanded), e.missingVars(), nil
}

type envExpander struct {
	lookup  func(string) (string, bool)
	missing map[string]struct{}
}

// walk visits every value scalar. Mapping keys are left alone and aliases are
// expanded where their anchor is defined.
func (e *envExpander) walk(root *yaml.Node) {
	stack := []*yaml.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch node.Kind {
		case yaml.DocumentNode, yaml.SequenceNode:
			stack = append(stack, node.Content...)
		case yaml.MappingNode:
			for i := 1; i < len(node.Content); i += 2 {
				stack = append(stack, node.Content[i])
			}
		case yaml.ScalarNode:
			e.expandScalar(node)
		}
	}
}

func (e *envExpander) expandScalar(node *yaml.Node) {
	if node.Tag != "" && node.Tag != "!!str" {
		return
	}
	if !strings.Contains(node.Value, "$") {
		return
	}
	expanded := os.Expand(node.Value, e.resolve)
	if expanded == node.Value {
		return
	}
	node.Value = expanded
	if node.Style != 0 {
		// Quoted scalars stay strings.
		node.Tag = "!!str"
		return
	}
	node.Tag = plainTag(expanded)
}

func (e *envExpander) resolve(name string) string {
	if name == "$" {
		return "$"
	}
	key, fallback, hasDefault := strings.Cut(name, ":-")
	if value, ok := e.lookup(key); ok && (value != "" || !hasDefault) {
		return value
	}
	if hasDefault {
		return fallback
	}
	e.missing[key] = struct{}{}
	return ""
}

func (e *envExpander) missingVars() []string {
	if len(e.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.missing))
	for name := range e.missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// plainTag picks the tag an unquoted expanded value resolves to. Config values are
// only ever strings, booleans, integers or floats.
func plainTag(value string) string {
	if value == "" || strings.TrimSpace(value) != value {
		return "!!str"
	}
	if value == "true" || value == "false" {
		return "!!bool"
	}
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return "!!int"
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return "!!float"
	}
	return "!!str"
}
