package main

import (
	"os"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/bookmeta/cmd"
)

// runMain runs main with args and returns the command Kong selected.
func runMain(t *testing.T, args ...string) (*cmd.CLI, string) {
	t.Helper()

	origArgs := os.Args
	os.Args = append([]string{"bookmeta"}, args...)
	t.Cleanup(func() { os.Args = origArgs })

	var cli cmd.CLI
	var selected string
	orig := execute
	execute = func() {
		parser, err := kong.New(&cli, kong.Name("bookmeta"))
		require.NoError(t, err)
		ctx, err := parser.Parse(os.Args[1:])
		require.NoError(t, err)
		selected = ctx.Command()
	}
	t.Cleanup(func() { execute = orig })

	main()
	return &cli, selected
}

func TestMainRunsLookup(t *testing.T) {
	cli, selected := runMain(t, "--format", "yaml", "lookup", "isbn:0143127551")

	assert.Equal(t, "lookup <id>", selected)
	assert.Equal(t, "isbn:0143127551", cli.Lookup.ID)
	assert.Equal(t, "yaml", cli.Format)
}

func TestMainRunsServe(t *testing.T) {
	cli, selected := runMain(t, "--log-level", "debug", "serve", "--addr", "127.0.0.1:9090")

	assert.Equal(t, "serve", selected)
	assert.Equal(t, "127.0.0.1:9090", cli.Serve.Addr)
	assert.Equal(t, "debug", cli.LogLevel)
}
