// Package console renders the transaction form as a line-oriented prompt.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Vee-data-analytics/new-sim/internal/pumpsim"
)

// errQuit ends the session without error.
var errQuit = errors.New("quit")

const help = `Commands at any prompt: reload, list, summary, quit.
Leave a prompt empty to skip the field.`

type Console struct {
	form *pumpsim.Form
	in   *bufio.Scanner
	out  io.Writer
}

func New(form *pumpsim.Form, in io.Reader, out io.Writer) *Console {
	return &Console{form: form, in: bufio.NewScanner(in), out: out}
}

// Run prompts for transactions until EOF or quit.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, help)
	c.printLists()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.fillAndSubmit(ctx)
		if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Console) fillAndSubmit(ctx context.Context) error {
	fmt.Fprintln(c.out)

	err := c.promptID(ctx, "Pump", func(id int64) error { return c.form.SelectPump(ctx, id) })
	if err != nil {
		return err
	}
	if err := c.promptID(ctx, "Nozzle", c.form.SelectNozzle); err != nil {
		return err
	}
	err = c.prompt(ctx, "Attendant", func(answer string) error { return c.form.SetAttendant(answer) })
	if err != nil {
		return err
	}
	if err := c.promptID(ctx, "Fuel type", c.form.SelectFuelType); err != nil {
		return err
	}
	err = c.prompt(ctx, "Volume", func(answer string) error {
		volume, err := decimal.NewFromString(answer)
		if err != nil {
			return fmt.Errorf("invalid volume %q", answer)
		}
		return c.form.SetVolume(volume)
	})
	if err != nil {
		return err
	}

	entry, err := c.form.Submit(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(c.out, "Logged transaction %s: %s x %s = %s\n", entry.ID,
			entry.Transaction.Volume, c.fuelName(entry.Transaction.FuelType), entry.Transaction.TotalCost)
	case errors.Is(err, pumpsim.ErrNotLogged):
		fmt.Fprintf(c.out, "Recorded transaction %s locally\n", entry.ID)
	}
	c.printStatus()
	return nil
}

// prompt asks for one field until set accepts the answer or it is skipped.
func (c *Console) prompt(ctx context.Context, label string, set func(string) error) error {
	for {
		fmt.Fprintf(c.out, "%s: ", label)
		if !c.in.Scan() {
			if err := c.in.Err(); err != nil {
				return fmt.Errorf("error reading input: %w", err)
			}
			return io.EOF
		}

		answer := strings.TrimSpace(c.in.Text())
		switch strings.ToLower(answer) {
		case "":
			return nil
		case "quit", "exit", "q":
			return errQuit
		case "reload":
			c.form.Reload(ctx)
			c.printLists()
			continue
		case "list":
			c.printLists()
			continue
		case "summary":
			c.printSummary(ctx)
			continue
		}

		if err := set(answer); err != nil {
			fmt.Fprintf(c.out, "  %v\n", err)
			continue
		}
		return nil
	}
}

func (c *Console) promptID(ctx context.Context, label string, set func(int64) error) error {
	return c.prompt(ctx, label, func(answer string) error {
		id, err := strconv.ParseInt(answer, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q", strings.ToLower(label), answer)
		}
		return set(id)
	})
}

func (c *Console) printLists() {
	view := c.form.View()

	fmt.Fprintln(c.out, "Pumps:")
	for _, p := range view.Pumps {
		fmt.Fprintf(c.out, "  %d. pump #%d\n", p.ID, p.PumpNumber)
	}
	fmt.Fprintln(c.out, "Nozzles:")
	for _, n := range view.Nozzles {
		fmt.Fprintf(c.out, "  %d. %s (pump %d)\n", n.ID, n.NozzleName, n.Pump)
	}
	fmt.Fprintln(c.out, "Fuel types:")
	for _, f := range view.FuelTypes {
		fmt.Fprintf(c.out, "  %d. %s @ %s\n", f.ID, f.Name, f.Price)
	}
}

func (c *Console) printStatus() {
	snap := c.form.State().Snapshot()
	fmt.Fprintf(c.out, "Unprocessed transactions: %d\n", snap.Unprocessed)
	if snap.LastError != "" {
		fmt.Fprintf(c.out, "Error: %s\n", snap.LastError)
	}
}

func (c *Console) printSummary(ctx context.Context) {
	summary, err := c.form.State().Ledger().Summary(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "  %v\n", err)
		return
	}
	if len(summary) == 0 {
		fmt.Fprintln(c.out, "No transactions recorded.")
		return
	}
	for _, s := range summary {
		fmt.Fprintf(c.out, "  %s: %d transactions, %s volume, %s total\n",
			c.fuelName(s.FuelType), s.Transactions, s.Volume, s.TotalCost)
	}
}

func (c *Console) fuelName(id int64) string {
	for _, f := range c.form.View().FuelTypes {
		if f.ID == id {
			return f.Name
		}
	}
	return fmt.Sprintf("fuel type %d", id)
}
