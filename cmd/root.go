package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"

	"github.com/lepinkainen/bookmeta/internal/config"
)

// CLI represents the complete command structure for the bookmeta application
type CLI struct {
	// Global flags
	Config   string `help:"Path to config file (defaults to ./config.yaml when present)" type:"path"`
	LogLevel string `help:"Log level: debug, info, warn or error (overrides log.level)"`
	Format   string `help:"Output format" enum:"json,yaml" default:"json"`

	Lookup LookupCmd `cmd:"" help:"Look up a book by ISBN or provider id (e.g. openlibrary:OL26328361M)"`
	Search SearchCmd `cmd:"" help:"Search providers by title, author, publisher or subject"`
	Serve  ServeCmd  `cmd:"" help:"Run the HTTP API"`
	Cache  CacheCmd  `cmd:"" help:"Inspect or clear the provider caches"`
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Execute runs the Kong-based CLI
func Execute() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bookmeta"),
		kong.Description("Aggregate book metadata from OpenLibrary, Google Books and ISBNdb."),
		kong.UsageOnError(),
	)

	if err := run(ctx, &cli); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx *kong.Context, cli *CLI) error {
	// Log to stderr so command output on stdout stays parseable
	initLogging(stderr, slog.LevelInfo)

	cfg, err := initConfig(viper.GetViper(), cli)
	if err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	initLogging(stderr, level)

	app, err := newApp(cfg, stdout, cli.Format, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("Failed to close caches", "error", err)
		}
	}()

	return ctx.Run(app)
}

// initConfig reads the config file and environment into a validated Config.
// A missing config file is not an error; every key has a default.
func initConfig(v *viper.Viper, cli *CLI) (*config.Config, error) {
	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil {
		return nil, err
	}

	if cli.Config != "" {
		v.SetConfigFile(cli.Config)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cli.Config != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Debug("Config file not found, using defaults")
	} else {
		slog.Debug("Using config file", "path", v.ConfigFileUsed())
	}

	if cli.LogLevel != "" {
		v.Set("log.level", cli.LogLevel)
	}

	return config.Load(v)
}

func initLogging(w io.Writer, level slog.Level) {
	// Create a human-readable handler for logging
	handler := humanlog.NewHandler(w, &humanlog.Options{
		Level: level,
	})

	// Set the default logger
	slog.SetDefault(slog.New(handler))
}
