package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lepinkainen/bookmeta/internal/book"
	"github.com/lepinkainen/bookmeta/internal/config"
	"github.com/lepinkainen/bookmeta/internal/lookup"
	"github.com/lepinkainen/bookmeta/internal/testutil"
)

func parseCLI(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()

	originalArgs := os.Args
	os.Args = append([]string{"bookmeta"}, args...)
	t.Cleanup(func() { os.Args = originalArgs })

	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("bookmeta"),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			t.Fatalf("unexpected Kong exit %d", code)
		}),
	)

	return cli, ctx
}

// testConfig returns the defaults with ISBNdb disabled and persistence off.
func testConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("providers.isbndb.enabled", false)
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, format string) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	app, err := newApp(cfg, &out, format, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, &out
}

func TestLookupCommandParsing(t *testing.T) {
	cli, ctx := parseCLI(t, "--format", "yaml", "lookup", "978-0-14-312755-0")

	assert.Equal(t, "lookup <id>", ctx.Command())
	assert.Equal(t, "978-0-14-312755-0", cli.Lookup.ID)
	assert.Equal(t, "yaml", cli.Format)
}

func TestSearchCommandParsing(t *testing.T) {
	cli, ctx := parseCLI(t, "search", "-t", "The Hobbit", "-a", "Tolkien", "--page", "2")

	assert.Equal(t, "search", ctx.Command())
	assert.Equal(t, "The Hobbit", cli.Search.Title)
	assert.Equal(t, "Tolkien", cli.Search.Author)
	assert.Equal(t, 2, cli.Search.Page)
	assert.Equal(t, 20, cli.Search.PageSize)
	assert.Equal(t, "json", cli.Format)
}

func TestCacheCommandParsing(t *testing.T) {
	cli, ctx := parseCLI(t, "cache", "clear", "googlebooks")
	assert.Equal(t, "cache clear <provider>", ctx.Command())
	assert.Equal(t, "googlebooks", cli.Cache.Clear.Provider)

	_, ctx = parseCLI(t, "cache", "clear")
	assert.Equal(t, "cache clear", ctx.Command())

	cli, _ = parseCLI(t, "serve", "--addr", ":9999")
	assert.Equal(t, ":9999", cli.Serve.Addr)
	assert.Equal(t, 30*time.Second, cli.Serve.RequestTimeout)
}

func TestInitConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := initConfig(viper.New(), &CLI{})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestInitConfigFromFile(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFile("bookmeta.yaml", []byte("server:\n  addr: 127.0.0.1:7000\nlog:\n  level: warn\n"))

	cfg, err := initConfig(viper.New(), &CLI{Config: env.Path("bookmeta.yaml"), LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitConfigMissingExplicitFile(t *testing.T) {
	env := testutil.NewTestEnv(t)

	_, err := initConfig(viper.New(), &CLI{Config: env.Path("missing.yaml")})
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	v := map[string]int{"removed": 3}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "json", v))
	assert.JSONEq(t, `{"removed": 3}`, buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, "yaml", v))
	assert.Equal(t, "removed: 3\n", buf.String())

	assert.Error(t, writeOutput(&buf, "xml", v))
}

func TestNewAppProviders(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t, nil), "json")
	assert.Equal(t, []book.Tag{book.TagOpenLibrary, book.TagGoogleBooks}, app.service.Providers())

	// ISBNdb enabled but without a key is skipped
	app, _ = newTestApp(t, testConfig(t, map[string]any{"providers.isbndb.enabled": true}), "json")
	assert.NotContains(t, app.service.Providers(), book.TagISBNdb)

	app, _ = newTestApp(t, testConfig(t, map[string]any{
		"providers.isbndb.enabled": true,
		"providers.isbndb.api_key": "k",
	}), "json")
	assert.Contains(t, app.service.Providers(), book.TagISBNdb)
}

func TestNewAppNoProviders(t *testing.T) {
	cfg := testConfig(t, map[string]any{
		"providers.openlibrary.enabled": false,
		"providers.googlebooks.enabled": false,
	})
	_, err := newApp(cfg, &bytes.Buffer{}, "json", slog.New(slog.DiscardHandler))
	assert.ErrorContains(t, err, "no providers enabled")
}

func fakeProviders(t *testing.T) map[string]any {
	t.Helper()

	olMux := http.NewServeMux()
	olMux.HandleFunc("/api/books", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ISBN:9780143127550": {"title": "Sapiens", "authors": [{"name": "Yuval Noah Harari"}]}}`))
	})
	gbMux := http.NewServeMux()
	gbMux.HandleFunc("/volumes", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalItems": 0}`))
	})

	return map[string]any{
		"providers.openlibrary.base_url":            testutil.NewIPv4TestServer(t, olMux).URL,
		"providers.openlibrary.requests_per_second": 0,
		"providers.googlebooks.base_url":            testutil.NewIPv4TestServer(t, gbMux).URL,
		"providers.googlebooks.retry_attempts":      1,
	}
}

func TestLookupCommand(t *testing.T) {
	app, out := newTestApp(t, testConfig(t, fakeProviders(t)), "json")

	require.NoError(t, (&LookupCmd{ID: "9780143127550"}).Run(app))

	var res lookup.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Sapiens", res.Records[0].Title)
	assert.Equal(t, []book.Tag{book.TagOpenLibrary}, res.Sources)
}

func TestLookupCommandYAML(t *testing.T) {
	app, out := newTestApp(t, testConfig(t, fakeProviders(t)), "yaml")

	require.NoError(t, (&LookupCmd{ID: "0143127551"}).Run(app))

	var res map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "9780143127550", res["query"])
}

func TestCacheClearPersists(t *testing.T) {
	env := testutil.NewTestEnv(t)
	overrides := fakeProviders(t)
	overrides["cache.persist_to_file"] = true
	overrides["cache.file_path"] = env.Path("cache", "bookmeta.json")
	cfg := testConfig(t, overrides)

	app, err := newApp(cfg, &bytes.Buffer{}, "json", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, (&LookupCmd{ID: "9780143127550"}).Run(app))
	require.NoError(t, app.Close())
	assert.True(t, env.FileExists("cache/bookmeta-openlibrary.json"))

	app, out := newTestApp(t, cfg, "json")
	require.NoError(t, (&CacheStatsCmd{}).Run(app))
	assert.Contains(t, out.String(), `"size": 2`)

	out.Reset()
	require.NoError(t, (&CacheClearCmd{Provider: "openlibrary"}).Run(app))
	assert.JSONEq(t, `{"removed": 1}`, out.String())

	assert.ErrorContains(t, (&CacheClearCmd{Provider: "amazon"}).Run(app), "unknown provider")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t, map[string]any{"server.addr": "127.0.0.1:0"}), "json")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&ServeCmd{}).serve(ctx, app) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
