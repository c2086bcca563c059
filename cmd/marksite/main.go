package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/marksite/internal"
	"github.com/starford/marksite/internal/apperr"
	pkgconfig "github.com/starford/marksite/pkg/config"
)

var version = "dev"

// loadConfig layers compiled defaults, MARKSITE_* variables, the config
// file and finally the command line flags.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	configPath := cmd.String("config")
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := pkgconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cli.Command, cfg *internal.Config) error {
	if cmd.IsSet("root") {
		cfg.Site.Root = cmd.String("root")
	}
	if cmd.IsSet("log-level") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	if cmd.IsSet("host") {
		cfg.App.HTTP.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.App.HTTP.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("output") {
		cfg.Build.Output = cmd.String("output")
	}
	if cmd.IsSet("concurrency") {
		cfg.Build.Concurrency = int(cmd.Int("concurrency"))
	}
	if cmd.IsSet("skip-link-validation") {
		cfg.Build.SkipLinkValidation = cmd.Bool("skip-link-validation")
	}
	if cmd.IsSet("skip-tag-pages") {
		cfg.Build.SkipTagPages = cmd.Bool("skip-tag-pages")
	}
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunServe(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func main() {
	exitCode := apperr.ExitSuccess

	cmd := &cli.Command{
		Name:    "marksite",
		Usage:   "Serve or build a website from a directory of Markdown files",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "marksite.yaml",
				Value:       "marksite.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Content root directory",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Address to bind the HTTP server to",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP server port",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the development server with live reload",
				Action: serve,
			},
			{
				Name:  "build",
				Usage: "Render the site into a static output directory",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory",
					},
					&cli.IntFlag{
						Name:    "concurrency",
						Aliases: []string{"j"},
						Usage:   "Number of pages rendered in parallel (0 = number of CPUs)",
					},
					&cli.BoolFlag{
						Name:  "skip-link-validation",
						Usage: "Do not report broken internal links",
					},
					&cli.BoolFlag{
						Name:  "skip-tag-pages",
						Usage: "Do not generate tag index and tag pages",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					exitCode, err = internal.RunBuild(ctx, internal.WithConfig(cfg))
					return err
				},
			},
			{
				Name:   "mcp",
				Usage:  "Expose the site to MCP clients over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		if exitCode == apperr.ExitSuccess {
			exitCode = apperr.ExitFailure
		}
	}
	os.Exit(exitCode)
}
