package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCompletion(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeCompletion(rootCmd, shell, &buf))
			assert.Contains(t, buf.String(), "tplsync")
		})
	}

	err := writeCompletion(rootCmd, "tcsh", &bytes.Buffer{})
	assert.EqualError(t, err, `unsupported shell "tcsh"`)
}

func TestImportCompletesArchives(t *testing.T) {
	require.NotNil(t, importCmd.ValidArgsFunction)

	values, directive := importCmd.ValidArgsFunction(importCmd, []string{"abc123"}, "")
	assert.Equal(t, []string{"zip"}, values)
	assert.Equal(t, cobra.ShellCompDirectiveFilterFileExt, directive)

	values, directive = importCmd.ValidArgsFunction(importCmd, nil, "")
	assert.Empty(t, values)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestOutputFlagCompletesJSON(t *testing.T) {
	for _, c := range []*cobra.Command{exportCmd, importCmd, pushCmd, filesCmd, launchCmd} {
		fn, ok := c.GetFlagCompletionFunc("output")
		require.True(t, ok, c.Name())
		values, directive := fn(c, nil, "")
		assert.Equal(t, []string{"json\tmachine-readable output"}, values)
		assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
	}
}
