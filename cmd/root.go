package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
	"github.com/lepinkainen/librarian/internal/config"
	"github.com/spf13/viper"
)

// stdout receives command output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// CLI represents the complete command structure for the librarian application
type CLI struct {
	// Global flags
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"" env:"LIBRARIAN_LOG_LEVEL"`

	// Database flags
	DBDriver string `help:"Catalog database driver (sqlite or mysql)" default:""`
	DB       string `help:"Catalog DSN or SQLite file path" default:"" env:"LIBRARIAN_DB"`

	// Cache flags
	CacheDBFile string `help:"Path to cache SQLite database file" default:""`
	CacheTTL    string `help:"Cache time-to-live duration (e.g., 720h for 30 days)" default:""`

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API"`
	Identify IdentifyCmd `cmd:"" help:"Identify the book shown on a cover image"`
	Lookup   LookupCmd   `cmd:"" help:"Look up book metadata by ISBN or title/author"`
	Books    BooksCmd    `cmd:"" help:"Manage the catalog"`
	Borrow   BorrowCmd   `cmd:"" help:"Lend a book to a user"`
	Return   ReturnCmd   `cmd:"" help:"Return a borrowed book"`
	Users    UsersCmd    `cmd:"" help:"Manage users"`
	Cache    CacheCmd    `cmd:"" help:"Manage the lookup cache"`
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging(slog.LevelInfo)
	initConfig()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("librarian"),
		kong.Description("Identify books from cover photos and run a small lending library."),
		kong.UsageOnError(),
	)

	updateGlobalConfig(&cli)
	initLogging(parseLevel(viper.GetString("log.level")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(); err != nil {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	config.SetDefaults()

	viper.AutomaticEnv()
	bindings := map[string]string{
		"googlebooks.api_key": "GOOGLE_BOOKS_API_KEY",
		"vision.api_key":      "GOOGLE_VISION_API_KEY",
		"isbndb.api_key":      "ISBNDB_API_KEY",
		"database.dsn":        "LIBRARIAN_DB",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			slog.Error("Failed to bind environment variable", "env", env, "error", err)
		}
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Info("Config file not found, writing default config file")
			if err := viper.SafeWriteConfig(); err != nil {
				slog.Error("Error writing config file", "error", err)
			}
		} else {
			slog.Error("Fatal error config file", "error", err)
			os.Exit(1)
		}
	}

	config.InitConfig()
}

// updateGlobalConfig lets non-empty flags override the config file.
func updateGlobalConfig(cli *CLI) {
	set := func(key, value string) {
		if value != "" {
			viper.Set(key, value)
		}
	}
	set("log.level", cli.LogLevel)
	set("database.driver", cli.DBDriver)
	set("database.dsn", cli.DB)
	set("cache.dbfile", cli.CacheDBFile)
	set("cache.ttl", cli.CacheTTL)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initLogging(level slog.Level) {
	handler := humanlog.NewHandler(os.Stderr, &humanlog.Options{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
