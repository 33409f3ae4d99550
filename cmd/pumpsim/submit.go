package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/Vee-data-analytics/new-sim/internal/pumpsim"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a single transaction",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "pump",
				Usage: "Pump ID",
			},
			&cli.Int64Flag{
				Name:  "nozzle",
				Usage: "Nozzle ID",
			},
			&cli.StringFlag{
				Name:  "attendant",
				Usage: "Attendant name",
			},
			&cli.Int64Flag{
				Name:  "fuel-type",
				Usage: "Fuel type ID",
			},
			&cli.StringFlag{
				Name:  "volume",
				Usage: "Dispensed volume",
				Value: "0",
			},
		},
		Action: submitAction,
	}
}

func submitAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	volume, err := decimal.NewFromString(c.String("volume"))
	if err != nil {
		return fmt.Errorf("invalid volume %q: %w", c.String("volume"), err)
	}

	update := pumpsim.Update{Volume: &volume}
	if c.IsSet("pump") {
		update.PumpID = int64Flag(c, "pump")
	}
	if c.IsSet("nozzle") {
		update.NozzleID = int64Flag(c, "nozzle")
	}
	if c.IsSet("fuel-type") {
		update.FuelTypeID = int64Flag(c, "fuel-type")
	}
	if c.IsSet("attendant") {
		attendant := c.String("attendant")
		update.Attendant = &attendant
	}

	ctx := context.Background()
	s, err := newSession(ctx, cfg, newLogger(c))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.form.Apply(ctx, update); err != nil {
		return err
	}

	entry, err := s.form.Submit(ctx)
	if err != nil && !errors.Is(err, pumpsim.ErrNotLogged) {
		return err
	}

	tx := entry.Transaction
	fmt.Printf("Transaction %s\n", entry.ID)
	fmt.Printf("   Pump: %d, nozzle: %d, attendant: %q\n", tx.Pump, tx.Nozzle, tx.Attendant)
	fmt.Printf("   Fuel type: %d\n", tx.FuelType)
	fmt.Printf("   Volume: %s\n", tx.Volume)
	fmt.Printf("   Total cost: %s\n", tx.TotalCost)
	fmt.Printf("Unprocessed transactions: %d\n", s.form.State().Snapshot().Unprocessed)

	return err
}

func int64Flag(c *cli.Context, name string) *int64 {
	v := c.Int64(name)
	return &v
}
