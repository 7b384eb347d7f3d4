package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabb/almabatch/internal/cli"
	"github.com/cabb/almabatch/pkg/version"
)

func TestMainComponents(t *testing.T) {
	t.Run("version available", func(t *testing.T) {
		assert.NotEmpty(t, version.GetVersion())
	})

	t.Run("cli root command", func(t *testing.T) {
		root := cli.NewRootCmd(version.String())
		require.NotNil(t, root)
		assert.Equal(t, "almabatch", root.Use)
	})
}

func TestRun_Version(t *testing.T) {
	t.Setenv("ALMABATCH_HOME", t.TempDir())
	require.NoError(t, run(context.Background(), []string{"--version"}))
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Setenv("ALMABATCH_HOME", t.TempDir())
	require.Error(t, run(context.Background(), []string{"no-such-command"}))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("set enumeration failed")))
}
