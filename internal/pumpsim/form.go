// Package pumpsim implements the transaction form of the pump simulator:
// reference data loading, input selection, and the submission workflow.
package pumpsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Vee-data-analytics/new-sim/internal/ledger"
	"github.com/Vee-data-analytics/new-sim/pkg/api"
)

var (
	ErrSubmitInProgress = errors.New("a submission is already in progress")
	ErrUnknownSelection = errors.New("not in the available list")
	// ErrNotLogged means the transaction was recorded locally but the
	// backoffice did not accept it.
	ErrNotLogged = errors.New("failed to log transaction")
)

// Phase is the state of the form.
type Phase int

const (
	PhaseEditing Phase = iota
	PhaseSubmitting
)

func (p Phase) String() string {
	switch p {
	case PhaseEditing:
		return "editing"
	case PhaseSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ValidationError blocks a submission or a selection.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// Input is the content of the form controls. Nil selections are unselected.
type Input struct {
	PumpID     *int64          `json:"pump"`
	NozzleID   *int64          `json:"nozzle"`
	Attendant  string          `json:"attendant"`
	FuelTypeID *int64          `json:"fuel_type"`
	Volume     decimal.Decimal `json:"volume"`
}

// IsZero reports whether every control is at its default.
func (in Input) IsZero() bool {
	return in.PumpID == nil && in.NozzleID == nil && in.FuelTypeID == nil &&
		in.Attendant == "" && in.Volume.IsZero()
}

// ViewModel is everything a presentation layer needs to draw the form.
type ViewModel struct {
	Reference
	Snapshot
	Input      Input `json:"input"`
	Submitting bool  `json:"submitting"`
}

type FormOptions struct {
	// FilterNozzlesByPump reloads the nozzle list with ?pump=<id> whenever
	// a pump is selected.
	FilterNozzlesByPump bool
}

// Form is the transaction form. It is safe for concurrent use; at most one
// submission runs at a time.
type Form struct {
	backoffice Backoffice
	loader     *ReferenceLoader
	state      *State
	opts       FormOptions
	log        *slog.Logger

	mu         sync.Mutex
	ref        Reference
	allNozzles []api.Nozzle
	input      Input
	phase      Phase
}

func NewForm(backoffice Backoffice, loader *ReferenceLoader, state *State, opts FormOptions, logger *slog.Logger) *Form {
	return &Form{
		backoffice: backoffice,
		loader:     loader,
		state:      state,
		opts:       opts,
		log:        logger,
	}
}

// State returns the application state the form writes to.
func (f *Form) State() *State {
	return f.state
}

// Load fetches the reference lists. Failed fetches leave empty lists.
func (f *Form) Load(ctx context.Context) {
	ref := f.loader.Load(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ref = ref
	f.allNozzles = ref.Nozzles
	f.log.Info("Reference data loaded", "pumps", len(ref.Pumps), "nozzles", len(ref.Nozzles), "fuel_types", len(ref.FuelTypes))
}

// Reload drops cached reference data and loads it again.
func (f *Form) Reload(ctx context.Context) {
	f.loader.Invalidate()
	f.Load(ctx)
}

// Phase returns the current form phase.
func (f *Form) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Input returns a copy of the current input.
func (f *Form) Input() Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input
}

// View returns the view model.
func (f *Form) View() ViewModel {
	snap := f.state.Snapshot()

	f.mu.Lock()
	defer f.mu.Unlock()
	return ViewModel{
		Reference:  f.ref,
		Snapshot:   snap,
		Input:      f.input,
		Submitting: f.phase == PhaseSubmitting,
	}
}

// SelectPump selects a pump by ID. With nozzle filtering enabled the nozzle
// list is narrowed to that pump and a nozzle of another pump is deselected.
func (f *Form) SelectPump(ctx context.Context, id int64) error {
	f.mu.Lock()
	if f.phase == PhaseSubmitting {
		f.mu.Unlock()
		return ErrSubmitInProgress
	}
	if findPump(f.ref.Pumps, id) == nil {
		f.mu.Unlock()
		return fmt.Errorf("pump %d: %w", id, ErrUnknownSelection)
	}
	f.input.PumpID = &id
	f.mu.Unlock()

	if !f.opts.FilterNozzlesByPump {
		return nil
	}

	nozzles := f.loader.Nozzles(ctx, &id)

	f.mu.Lock()
	defer f.mu.Unlock()
	// Another selection may have happened while fetching.
	if f.input.PumpID == nil || *f.input.PumpID != id {
		return nil
	}
	f.ref.Nozzles = nozzles
	if f.input.NozzleID != nil && findNozzle(nozzles, *f.input.NozzleID) == nil {
		f.input.NozzleID = nil
	}
	return nil
}

// SelectNozzle selects a nozzle by ID. A nozzle with a pre-assigned fuel
// type selects it when no fuel type is chosen yet.
func (f *Form) SelectNozzle(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase == PhaseSubmitting {
		return ErrSubmitInProgress
	}
	nozzle := findNozzle(f.ref.Nozzles, id)
	if nozzle == nil {
		return fmt.Errorf("nozzle %d: %w", id, ErrUnknownSelection)
	}
	f.input.NozzleID = &id

	if nozzle.FuelType != nil && f.input.FuelTypeID == nil && findFuelType(f.ref.FuelTypes, *nozzle.FuelType) != nil {
		fuel := *nozzle.FuelType
		f.input.FuelTypeID = &fuel
	}
	return nil
}

// SetAttendant sets the free text attendant name.
func (f *Form) SetAttendant(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase == PhaseSubmitting {
		return ErrSubmitInProgress
	}
	f.input.Attendant = strings.TrimSpace(name)
	return nil
}

// SelectFuelType selects a fuel type by ID.
func (f *Form) SelectFuelType(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase == PhaseSubmitting {
		return ErrSubmitInProgress
	}
	if findFuelType(f.ref.FuelTypes, id) == nil {
		return fmt.Errorf("fuel type %d: %w", id, ErrUnknownSelection)
	}
	f.input.FuelTypeID = &id
	return nil
}

// SetVolume sets the dispensed volume. Negative volumes are rejected.
func (f *Form) SetVolume(volume decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase == PhaseSubmitting {
		return ErrSubmitInProgress
	}
	if volume.IsNegative() {
		return &ValidationError{Field: "volume", Reason: "must not be negative"}
	}
	f.input.Volume = volume
	return nil
}

// Update lists control changes. Nil fields leave the control untouched.
type Update struct {
	PumpID     *int64           `json:"pump"`
	NozzleID   *int64           `json:"nozzle"`
	Attendant  *string          `json:"attendant"`
	FuelTypeID *int64           `json:"fuel_type"`
	Volume     *decimal.Decimal `json:"volume"`
}

// Apply performs the changes in u, stopping at the first rejected one.
// The fuel type is applied before the nozzle so that an explicit choice
// wins over a nozzle's pre-assignment.
func (f *Form) Apply(ctx context.Context, u Update) error {
	if u.PumpID != nil {
		if err := f.SelectPump(ctx, *u.PumpID); err != nil {
			return err
		}
	}
	if u.FuelTypeID != nil {
		if err := f.SelectFuelType(*u.FuelTypeID); err != nil {
			return err
		}
	}
	if u.NozzleID != nil {
		if err := f.SelectNozzle(*u.NozzleID); err != nil {
			return err
		}
	}
	if u.Attendant != nil {
		if err := f.SetAttendant(*u.Attendant); err != nil {
			return err
		}
	}
	if u.Volume != nil {
		if err := f.SetVolume(*u.Volume); err != nil {
			return err
		}
	}
	return nil
}

// Reset returns every control to its default.
func (f *Form) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.phase == PhaseSubmitting {
		return ErrSubmitInProgress
	}
	f.resetLocked()
	return nil
}

// Submit validates the input, records the transaction in the session ledger
// and logs it to the backoffice. The inputs are reset after every attempt.
//
// A *ValidationError means nothing was recorded. An error wrapping
// ErrNotLogged comes with the recorded entry: the local record is kept even
// though the backoffice did not accept it.
func (f *Form) Submit(ctx context.Context) (ledger.Entry, error) {
	f.mu.Lock()
	if f.phase == PhaseSubmitting {
		f.mu.Unlock()
		return ledger.Entry{}, ErrSubmitInProgress
	}

	tx, verr := f.buildLocked()
	if verr != nil {
		f.resetLocked()
		f.mu.Unlock()
		f.log.Debug("Submission rejected", "field", verr.Field, "reason", verr.Reason)
		f.state.SetError(verr.Error())
		return ledger.Entry{}, verr
	}

	f.phase = PhaseSubmitting
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.resetLocked()
		f.phase = PhaseEditing
		f.mu.Unlock()
	}()

	entry, err := f.state.AddTransaction(ctx, tx)
	if err != nil {
		f.state.SetError(fmt.Sprintf("Failed to record transaction: %v", err))
		return ledger.Entry{}, fmt.Errorf("error recording transaction: %w", err)
	}

	if err := f.backoffice.PostTransaction(ctx, tx); err != nil {
		f.log.Error("Failed to log transaction", "id", entry.ID, "error", err)
		f.state.SetError(fmt.Sprintf("Failed to log transaction: %v", err))
		return entry, fmt.Errorf("%w: %w", ErrNotLogged, err)
	}

	f.state.ClearError()
	return entry, nil
}

func (f *Form) buildLocked() (api.Transaction, *ValidationError) {
	in := f.input
	if in.PumpID == nil {
		return api.Transaction{}, &ValidationError{Field: "pump", Reason: "is required"}
	}
	if in.NozzleID == nil {
		return api.Transaction{}, &ValidationError{Field: "nozzle", Reason: "is required"}
	}
	if in.FuelTypeID == nil {
		return api.Transaction{}, &ValidationError{Field: "fuel type", Reason: "is required"}
	}
	if in.Volume.IsNegative() {
		return api.Transaction{}, &ValidationError{Field: "volume", Reason: "must not be negative"}
	}

	if nozzle := findNozzle(f.ref.Nozzles, *in.NozzleID); nozzle != nil && nozzle.Pump != 0 && nozzle.Pump != *in.PumpID {
		return api.Transaction{}, &ValidationError{Field: "nozzle", Reason: "does not belong to the selected pump"}
	}

	// The price is read at submission time, never carried over from an
	// earlier selection.
	fuel := findFuelType(f.ref.FuelTypes, *in.FuelTypeID)
	if fuel == nil {
		return api.Transaction{}, &ValidationError{Field: "fuel type", Reason: "is not available"}
	}

	return api.Transaction{
		Pump:      *in.PumpID,
		Nozzle:    *in.NozzleID,
		Attendant: in.Attendant,
		FuelType:  fuel.ID,
		Volume:    in.Volume,
		TotalCost: TotalCost(in.Volume, fuel.Price),
	}, nil
}

func (f *Form) resetLocked() {
	f.input = Input{}
	f.ref.Nozzles = f.allNozzles
}

// TotalCost is volume × unit price with no rounding.
func TotalCost(volume, unitPrice decimal.Decimal) decimal.Decimal {
	return volume.Mul(unitPrice)
}

func findPump(pumps []api.Pump, id int64) *api.Pump {
	for i := range pumps {
		if pumps[i].ID == id {
			return &pumps[i]
		}
	}
	return nil
}

func findNozzle(nozzles []api.Nozzle, id int64) *api.Nozzle {
	for i := range nozzles {
		if nozzles[i].ID == id {
			return &nozzles[i]
		}
	}
	return nil
}

func findFuelType(fuels []api.FuelType, id int64) *api.FuelType {
	for i := range fuels {
		if fuels[i].ID == id {
			return &fuels[i]
		}
	}
	return nil
}
