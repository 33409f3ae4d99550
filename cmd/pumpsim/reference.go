package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func referenceCommand() *cli.Command {
	return &cli.Command{
		Name:   "reference",
		Usage:  "List the pumps, nozzles and fuel types known to the backoffice",
		Action: referenceAction,
	}
}

func referenceAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := newSession(ctx, cfg, newLogger(c))
	if err != nil {
		return err
	}
	defer s.Close()

	view := s.form.View()
	fmt.Printf("Pumps (%d):\n", len(view.Pumps))
	for _, p := range view.Pumps {
		fmt.Printf("  %d. pump #%d\n", p.ID, p.PumpNumber)
	}
	fmt.Printf("Nozzles (%d):\n", len(view.Nozzles))
	for _, n := range view.Nozzles {
		fmt.Printf("  %d. %s (pump %d)\n", n.ID, n.NozzleName, n.Pump)
	}
	fmt.Printf("Fuel types (%d):\n", len(view.FuelTypes))
	for _, f := range view.FuelTypes {
		fmt.Printf("  %d. %s @ %s\n", f.ID, f.Name, f.Price)
	}
	return nil
}
