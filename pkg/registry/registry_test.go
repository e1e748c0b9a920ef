package registry

import (
	"context"
	"testing"

	"github.com/aretw0/limpopo/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := ""
	quiz := func(name string) session.QuizFunc {
		return func(context.Context, *session.Dialog) error {
			called = name
			return nil
		}
	}

	r.Register("yesno", quiz("first"))
	r.Register("color", quiz("color"))
	r.Register("yesno", quiz("second"))

	assert.Equal(t, []string{"color", "yesno"}, r.Names())

	got, err := r.Lookup("yesno")
	require.NoError(t, err)
	require.NoError(t, got(context.Background(), nil))
	assert.Equal(t, "second", called)

	_, err = r.Lookup("missing")
	assert.ErrorContains(t, err, "quiz not found: missing")
}
