package middleware

import (
	"context"
	"fmt"
	"maps"
	"regexp"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type piiMiddleware struct {
	ports.Storage
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the respondent's extra data whose
// keys match one of the patterns before the dialog row is written.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: redact pattern %q: %w", domain.ErrInvalidSettings, p, err)
		}
		patterns[i] = re
	}
	return func(next ports.Storage) ports.Storage {
		return &piiMiddleware{Storage: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) CreateDialog(ctx context.Context, respondent domain.Respondent) (domain.DialogID, error) {
	// Copy so that the live session keeps the real values.
	respondent.ExtraData = deepCopyMap(respondent.ExtraData)
	maskMap(respondent.ExtraData, m.patterns)
	return m.Storage.CreateDialog(ctx, respondent)
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	for k, v := range out {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				break
			}
		}

		if subMap, ok := v.(map[string]any); ok && m[k] != Mask {
			maskMap(subMap, patterns)
		}
	}
}
