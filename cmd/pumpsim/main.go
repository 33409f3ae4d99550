package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Vee-data-analytics/new-sim/internal/config"
	"github.com/Vee-data-analytics/new-sim/internal/ledger"
	"github.com/Vee-data-analytics/new-sim/internal/pumpsim"
	"github.com/Vee-data-analytics/new-sim/pkg/api"
)

func main() {
	app := &cli.App{
		Name:  "pumpsim",
		Usage: "Simulate fuel pump transactions against the station backoffice",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file",
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Backoffice base URL",
				EnvVars: []string{"PUMPSIM_BASE_URL"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			referenceCommand(),
			submitCommand(),
			runCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the global flag
// overrides. Only an explicitly named file has to exist.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.IsSet("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("base-url") {
		cfg.BaseURL = c.String("base-url")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session is a loaded form with the ledger backing it.
type session struct {
	form   *pumpsim.Form
	ledger *ledger.Ledger
}

func (s *session) Close() error {
	return s.ledger.Close()
}

func newSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (*session, error) {
	client := api.NewBackofficeAPI(cfg.BaseURL, api.Options{
		Timeout: cfg.Timeout,
		Naming:  cfg.FieldNaming,
		Logger:  logger,
	})

	l, err := ledger.New(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing ledger: %w", err)
	}

	loader := pumpsim.NewReferenceLoader(client, cfg.ReferenceCacheTTL, logger)
	form := pumpsim.NewForm(client, loader, pumpsim.NewState(l, logger), pumpsim.FormOptions{
		FilterNozzlesByPump: cfg.FilterNozzlesByPump,
	}, logger)
	form.Load(ctx)

	return &session{form: form, ledger: l}, nil
}
