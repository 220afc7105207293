package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"serve", "classify", "regions", "detail"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "gridmap", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	assert.NotNil(t, serveCmd.Flags().Lookup("period"))
}

func TestClassifyCommand_Flags(t *testing.T) {
	for _, name := range []string{"period", "file", "charset", "by-region", "json"} {
		assert.NotNil(t, classifyCmd.Flags().Lookup(name), "classify should have --%s flag", name)
	}
}

func TestRegionsCommand_Flags(t *testing.T) {
	for _, name := range []string{"region", "json"} {
		assert.NotNil(t, regionsCmd.Flags().Lookup(name), "regions should have --%s flag", name)
	}
}

func TestDetailCommand_RequiredFlags(t *testing.T) {
	for _, name := range []string{"lon", "lat"} {
		flag := detailCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "detail should have --%s flag", name)
		assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
	}
}
