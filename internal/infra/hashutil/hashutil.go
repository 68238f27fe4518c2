package hashutil

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"idxtmpl/internal/domain"
)

// TemplateDigest returns a blake3 digest of a template payload and logs on failure.
func TemplateDigest(logger *zap.Logger, body domain.TemplateBody) string {
	return hashWithLogger(logger, "template", func() (string, error) {
		return HashTemplateBody(body)
	})
}

// HashTemplateBody hashes the canonical JSON encoding of body. Map keys are sorted by
// encoding/json, so equal payloads produce equal digests.
func HashTemplateBody(body domain.TemplateBody) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func hashWithLogger(logger *zap.Logger, label string, fn func() (string, error)) string {
	digest, err := fn()
	if err != nil {
		if logger != nil {
			logger.Warn(fmt.Sprintf("%s hash failed", label), zap.Error(err))
		}
		return ""
	}
	return digest
}
