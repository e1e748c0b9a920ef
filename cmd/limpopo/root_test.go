package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/aretw0/limpopo"
	"github.com/aretw0/limpopo/internal/cli"
	"github.com/aretw0/limpopo/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "limpopo version "+limpopo.Version+"\n", buf.String())
}

func TestQuizzes(t *testing.T) {
	rt, err := cli.Bootstrap(context.Background(), config.Default(), &bytes.Buffer{})
	require.NoError(t, err)
	defer rt.Close()

	reg := quizzes(rt)
	assert.Equal(t, []string{"profile", "yesno"}, reg.Names())

	_, err = reg.Lookup("survey")
	assert.ErrorContains(t, err, "quiz not found: survey")
}

func TestIsTerminal_Pipe(t *testing.T) {
	assert.False(t, isTerminal(bytes.NewBufferString("1\n")))
}
