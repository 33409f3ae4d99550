package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/Vee-data-analytics/new-sim/internal/console"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Fill in transactions interactively",
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := newSession(ctx, cfg, newLogger(c))
	if err != nil {
		return err
	}
	defer s.Close()

	return console.New(s.form, os.Stdin, os.Stdout).Run(ctx)
}
