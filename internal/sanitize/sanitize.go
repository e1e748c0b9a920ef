// Package sanitize cleans inbound respondent text before it reaches a dialog.
package sanitize

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/limpopo/pkg/domain"
)

var (
	ErrTooLarge    = fmt.Errorf("%w: message too large", domain.ErrInvalidInput)
	ErrInvalidUTF8 = fmt.Errorf("%w: invalid UTF-8", domain.ErrInvalidInput)
)

const zeroWidthJoiner = '‍'

// Text normalises a reply: CRLF becomes LF, control and format characters are dropped
// except newline, tab and the zero-width joiner used by emoji sequences.
// Replies longer than maxBytes are rejected; a non-positive maxBytes disables the limit.
func Text(text string, maxBytes int) (string, error) {
	if maxBytes > 0 && len(text) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(text), maxBytes)
	}
	if !utf8.ValidString(text) {
		return "", ErrInvalidUTF8
	}
	return strings.Map(keep, strings.ReplaceAll(text, "\r\n", "\n")), nil
}

func keep(r rune) rune {
	switch {
	case r == '\n', r == '\t', r == zeroWidthJoiner:
		return r
	case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		return -1
	}
	return r
}
