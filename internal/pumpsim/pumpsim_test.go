package pumpsim

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Vee-data-analytics/new-sim/internal/ledger"
	"github.com/Vee-data-analytics/new-sim/pkg/api"
)

const defaultTestTTL = time.Minute

func ptr(v int64) *int64 { return &v }

// fakeBackoffice serves fixed reference lists and records posted transactions.
type fakeBackoffice struct {
	mu         sync.Mutex
	pumps      []api.Pump
	nozzles    []api.Nozzle
	fuelTypes  []api.FuelType
	fetchErr   error
	postErr    error
	posted     []api.Transaction
	fetches    map[string]int
	postGate   chan struct{}
	postCalled chan struct{}
}

func newFakeBackoffice() *fakeBackoffice {
	return &fakeBackoffice{
		pumps: []api.Pump{
			{ID: 1, PumpNumber: 1},
			{ID: 2, PumpNumber: 2, TankInfo: ptr(9)},
		},
		nozzles: []api.Nozzle{
			{ID: 10, NozzleName: "1A", Pump: 1},
			{ID: 11, NozzleName: "1B", Pump: 1, FuelType: ptr(200)},
			{ID: 20, NozzleName: "2A", Pump: 2},
		},
		fuelTypes: []api.FuelType{
			{ID: 100, Name: "Diesel", Price: decimal.RequireFromString("1.899")},
			{ID: 200, Name: "Unleaded 95", Price: decimal.RequireFromString("1.659")},
		},
		fetches: make(map[string]int),
	}
}

func (b *fakeBackoffice) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches[key]
}

func (b *fakeBackoffice) FetchPumps(ctx context.Context) ([]api.Pump, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches["pumps"]++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.pumps, nil
}

func (b *fakeBackoffice) FetchNozzles(ctx context.Context, pumpID *int64) ([]api.Nozzle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches["nozzles"]++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if pumpID == nil {
		return b.nozzles, nil
	}
	var filtered []api.Nozzle
	for _, n := range b.nozzles {
		if n.Pump == *pumpID {
			filtered = append(filtered, n)
		}
	}
	return filtered, nil
}

func (b *fakeBackoffice) FetchFuelTypes(ctx context.Context) ([]api.FuelType, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches["fuel_types"]++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.fuelTypes, nil
}

func (b *fakeBackoffice) PostTransaction(ctx context.Context, tx api.Transaction) error {
	if b.postCalled != nil {
		b.postCalled <- struct{}{}
	}
	if b.postGate != nil {
		<-b.postGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.postErr != nil {
		return b.postErr
	}
	b.posted = append(b.posted, tx)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestForm(t *testing.T, b *fakeBackoffice, opts FormOptions) *Form {
	t.Helper()
	l, err := ledger.New(context.Background(), discardLogger())
	if err != nil {
		t.Fatalf("ledger.New() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	loader := NewReferenceLoader(b, 0, discardLogger())
	f := NewForm(b, loader, NewState(l, discardLogger()), opts, discardLogger())
	f.Load(context.Background())
	return f
}

func fill(t *testing.T, f *Form, pump, nozzle, fuel int64, volume string) {
	t.Helper()
	ctx := context.Background()
	if err := f.SelectPump(ctx, pump); err != nil {
		t.Fatalf("SelectPump(%d) failed: %v", pump, err)
	}
	if err := f.SelectNozzle(nozzle); err != nil {
		t.Fatalf("SelectNozzle(%d) failed: %v", nozzle, err)
	}
	if err := f.SelectFuelType(fuel); err != nil {
		t.Fatalf("SelectFuelType(%d) failed: %v", fuel, err)
	}
	if err := f.SetAttendant("  Ana "); err != nil {
		t.Fatalf("SetAttendant() failed: %v", err)
	}
	if err := f.SetVolume(decimal.RequireFromString(volume)); err != nil {
		t.Fatalf("SetVolume(%s) failed: %v", volume, err)
	}
}

func ledgerCount(t *testing.T, f *Form) int {
	t.Helper()
	count, err := f.State().Ledger().Count(context.Background())
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	return count
}

func TestTotalCost(t *testing.T) {
	tests := []struct {
		volume, price, expected string
	}{
		{"10.5", "1.899", "19.9395"},
		{"0", "1.899", "0"},
		{"1", "1.659", "1.659"},
		{"33.333", "2.001", "66.699333"},
		{"0.001", "0.001", "0.000001"},
	}

	for _, test := range tests {
		got := TotalCost(decimal.RequireFromString(test.volume), decimal.RequireFromString(test.price))
		if !got.Equal(decimal.RequireFromString(test.expected)) {
			t.Errorf("TotalCost(%s, %s) = %s, expected %s", test.volume, test.price, got, test.expected)
		}
	}
}

func TestForm_Submit(t *testing.T) {
	b := newFakeBackoffice()
	f := newTestForm(t, b, FormOptions{})
	f.State().SetError("stale")

	fill(t, f, 1, 10, 100, "10.5")
	entry, err := f.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if !entry.Transaction.TotalCost.Equal(decimal.RequireFromString("19.9395")) {
		t.Errorf("Expected total cost 19.9395, got %s", entry.Transaction.TotalCost)
	}
	if entry.Transaction.Attendant != "Ana" {
		t.Errorf("Expected trimmed attendant, got %q", entry.Transaction.Attendant)
	}
	if len(b.posted) != 1 || b.posted[0] != entry.Transaction {
		t.Errorf("Expected the recorded transaction to be posted, got %+v", b.posted)
	}

	snap := f.State().Snapshot()
	if snap.Unprocessed != 1 || snap.LastError != "" {
		t.Errorf("Unexpected snapshot after success: %+v", snap)
	}
	if !f.Input().IsZero() {
		t.Errorf("Expected inputs reset, got %+v", f.Input())
	}
	if f.Phase() != PhaseEditing {
		t.Errorf("Expected editing phase, got %s", f.Phase())
	}
}

func TestForm_SubmitMissingSelection(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *Form)
		field string
	}{
		{"nothing selected", func(f *Form) {}, "pump"},
		{"no nozzle", func(f *Form) {
			f.SelectPump(context.Background(), 1)
			f.SelectFuelType(100)
		}, "nozzle"},
		{"no fuel type", func(f *Form) {
			f.SelectPump(context.Background(), 1)
			f.SelectNozzle(10)
			f.SetVolume(decimal.NewFromInt(5))
		}, "fuel type"},
		{"no pump", func(f *Form) {
			f.SelectNozzle(10)
			f.SelectFuelType(100)
		}, "pump"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := newFakeBackoffice()
			f := newTestForm(t, b, FormOptions{})
			test.setup(f)

			_, err := f.Submit(context.Background())
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected *ValidationError, got %v", err)
			}
			if verr.Field != test.field {
				t.Errorf("Expected missing %q, got %q", test.field, verr.Field)
			}

			if n := ledgerCount(t, f); n != 0 {
				t.Errorf("Expected empty ledger, got %d entries", n)
			}
			if len(b.posted) != 0 {
				t.Errorf("Expected nothing posted, got %d", len(b.posted))
			}
			snap := f.State().Snapshot()
			if snap.LastError == "" || snap.LastError != verr.Error() {
				t.Errorf("Expected error label %q, got %q", verr.Error(), snap.LastError)
			}
			if snap.Unprocessed != 0 {
				t.Errorf("Expected no unprocessed transactions, got %d", snap.Unprocessed)
			}
			if !f.Input().IsZero() {
				t.Errorf("Expected inputs reset, got %+v", f.Input())
			}
		})
	}
}

func TestForm_SubmitRemoteFailure(t *testing.T) {
	b := newFakeBackoffice()
	b.postErr = &api.StatusError{Method: "POST", Endpoint: api.TransactionsEndpoint, StatusCode: 500, Body: "boom"}
	f := newTestForm(t, b, FormOptions{})

	fill(t, f, 2, 20, 200, "3")
	entry, err := f.Submit(context.Background())
	if !errors.Is(err, ErrNotLogged) {
		t.Fatalf("Expected ErrNotLogged, got %v", err)
	}
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) {
		t.Errorf("Expected wrapped *api.StatusError, got %v", err)
	}
	if entry.Seq == 0 {
		t.Error("Expected the local entry to be returned")
	}

	if n := ledgerCount(t, f); n != 1 {
		t.Errorf("Expected local record kept, ledger has %d entries", n)
	}
	snap := f.State().Snapshot()
	if snap.Unprocessed != 1 {
		t.Errorf("Expected 1 unprocessed, got %d", snap.Unprocessed)
	}
	if snap.LastError == "" || !strings.Contains(snap.LastError, "boom") {
		t.Errorf("Expected error label with response detail, got %q", snap.LastError)
	}
	if !f.Input().IsZero() {
		t.Errorf("Expected inputs reset, got %+v", f.Input())
	}

	// A later success clears the error label.
	b.postErr = nil
	fill(t, f, 1, 10, 100, "1")
	if _, err := f.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	snap = f.State().Snapshot()
	if snap.LastError != "" || snap.Unprocessed != 2 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}

func TestForm_SubmitInProgress(t *testing.T) {
	b := newFakeBackoffice()
	b.postGate = make(chan struct{})
	b.postCalled = make(chan struct{}, 1)
	f := newTestForm(t, b, FormOptions{})
	fill(t, f, 1, 10, 100, "2")

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background())
		done <- err
	}()
	<-b.postCalled

	if f.Phase() != PhaseSubmitting {
		t.Errorf("Expected submitting phase, got %s", f.Phase())
	}
	if !f.View().Submitting {
		t.Error("Expected view model to report submitting")
	}
	if _, err := f.Submit(context.Background()); !errors.Is(err, ErrSubmitInProgress) {
		t.Errorf("Expected ErrSubmitInProgress, got %v", err)
	}
	if err := f.SelectFuelType(200); !errors.Is(err, ErrSubmitInProgress) {
		t.Errorf("Expected inputs disabled while submitting, got %v", err)
	}

	close(b.postGate)
	if err := <-done; err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if n := ledgerCount(t, f); n != 1 {
		t.Errorf("Expected exactly one entry, got %d", n)
	}
	if f.Phase() != PhaseEditing {
		t.Errorf("Expected editing phase, got %s", f.Phase())
	}
}

func TestForm_Selections(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackoffice()
	f := newTestForm(t, b, FormOptions{})

	if err := f.SelectPump(ctx, 99); !errors.Is(err, ErrUnknownSelection) {
		t.Errorf("Expected ErrUnknownSelection for pump, got %v", err)
	}
	if err := f.SelectNozzle(99); !errors.Is(err, ErrUnknownSelection) {
		t.Errorf("Expected ErrUnknownSelection for nozzle, got %v", err)
	}
	if err := f.SelectFuelType(99); !errors.Is(err, ErrUnknownSelection) {
		t.Errorf("Expected ErrUnknownSelection for fuel type, got %v", err)
	}

	var verr *ValidationError
	if err := f.SetVolume(decimal.RequireFromString("-1")); !errors.As(err, &verr) {
		t.Errorf("Expected *ValidationError for negative volume, got %v", err)
	}

	// Nozzle 11 carries a pre-assigned fuel type.
	if err := f.SelectNozzle(11); err != nil {
		t.Fatalf("SelectNozzle() failed: %v", err)
	}
	if in := f.Input(); in.FuelTypeID == nil || *in.FuelTypeID != 200 {
		t.Errorf("Expected pre-assigned fuel type 200, got %v", in.FuelTypeID)
	}

	if err := f.Reset(); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if err := f.SelectFuelType(100); err != nil {
		t.Fatalf("SelectFuelType() failed: %v", err)
	}
	if err := f.SelectNozzle(11); err != nil {
		t.Fatalf("SelectNozzle() failed: %v", err)
	}
	if in := f.Input(); *in.FuelTypeID != 100 {
		t.Errorf("Expected explicit fuel type to win, got %d", *in.FuelTypeID)
	}
}

func TestForm_Apply(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackoffice()
	f := newTestForm(t, b, FormOptions{})

	attendant := "  Ana  "
	volume := decimal.RequireFromString("2.5")
	err := f.Apply(ctx, Update{
		PumpID:     ptr(1),
		NozzleID:   ptr(11),
		FuelTypeID: ptr(100),
		Attendant:  &attendant,
		Volume:     &volume,
	})
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	in := f.Input()
	if *in.PumpID != 1 || *in.NozzleID != 11 || in.Attendant != "Ana" || !in.Volume.Equal(volume) {
		t.Errorf("Unexpected input: %+v", in)
	}
	if *in.FuelTypeID != 100 {
		t.Errorf("Expected explicit fuel type to win over the nozzle, got %d", *in.FuelTypeID)
	}

	// Untouched controls keep their values.
	if err := f.Apply(ctx, Update{NozzleID: ptr(10)}); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if in := f.Input(); *in.NozzleID != 10 || in.Attendant != "Ana" || !in.Volume.Equal(volume) {
		t.Errorf("Unexpected input after partial update: %+v", in)
	}

	if err := f.Apply(ctx, Update{FuelTypeID: ptr(99)}); !errors.Is(err, ErrUnknownSelection) {
		t.Errorf("Expected ErrUnknownSelection, got %v", err)
	}
}

func TestForm_NozzleFromOtherPump(t *testing.T) {
	b := newFakeBackoffice()
	f := newTestForm(t, b, FormOptions{})

	fill(t, f, 1, 20, 100, "1")
	_, err := f.Submit(context.Background())
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "nozzle" {
		t.Fatalf("Expected nozzle validation error, got %v", err)
	}
	if n := ledgerCount(t, f); n != 0 {
		t.Errorf("Expected empty ledger, got %d", n)
	}
}

func TestForm_FilterNozzlesByPump(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackoffice()
	f := newTestForm(t, b, FormOptions{FilterNozzlesByPump: true})

	if err := f.SelectNozzle(10); err != nil {
		t.Fatalf("SelectNozzle() failed: %v", err)
	}
	if err := f.SelectPump(ctx, 2); err != nil {
		t.Fatalf("SelectPump() failed: %v", err)
	}

	view := f.View()
	if len(view.Nozzles) != 1 || view.Nozzles[0].ID != 20 {
		t.Errorf("Expected only pump 2 nozzles, got %+v", view.Nozzles)
	}
	if view.Input.NozzleID != nil {
		t.Errorf("Expected nozzle of pump 1 to be deselected, got %d", *view.Input.NozzleID)
	}
	if err := f.SelectNozzle(10); !errors.Is(err, ErrUnknownSelection) {
		t.Errorf("Expected nozzle 10 to be unavailable, got %v", err)
	}

	if err := f.SelectNozzle(20); err != nil {
		t.Fatalf("SelectNozzle() failed: %v", err)
	}
	f.SelectFuelType(100)
	if _, err := f.Submit(ctx); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if got := len(f.View().Nozzles); got != 3 {
		t.Errorf("Expected full nozzle list after reset, got %d", got)
	}
}

func TestForm_LoadFailureDegrades(t *testing.T) {
	b := newFakeBackoffice()
	b.fetchErr = errors.New("connection refused")
	f := newTestForm(t, b, FormOptions{})

	view := f.View()
	if view.Pumps == nil || len(view.Pumps) != 0 {
		t.Errorf("Expected empty pump list, got %v", view.Pumps)
	}
	if len(view.Nozzles) != 0 || len(view.FuelTypes) != 0 {
		t.Errorf("Expected empty lists, got %+v", view.Reference)
	}
	if view.LastError != "" {
		t.Errorf("Fetch failures must not reach the error label, got %q", view.LastError)
	}

	b.fetchErr = nil
	f.Reload(context.Background())
	if got := len(f.View().Pumps); got != 2 {
		t.Errorf("Expected pumps after reload, got %d", got)
	}
}

func TestForm_UnprocessedMatchesLedger(t *testing.T) {
	b := newFakeBackoffice()
	f := newTestForm(t, b, FormOptions{})

	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			fill(t, f, 1, 10, 100, "1.25")
		}
		if i == 3 {
			b.postErr = errors.New("timeout")
		}
		f.Submit(context.Background())

		if snap, n := f.State().Snapshot(), ledgerCount(t, f); snap.Unprocessed != n {
			t.Fatalf("iteration %d: unprocessed %d != ledger length %d", i, snap.Unprocessed, n)
		}
	}
}

func TestReferenceLoader_Cache(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackoffice()
	loader := NewReferenceLoader(b, defaultTestTTL, discardLogger())

	loader.Pumps(ctx)
	loader.Pumps(ctx)
	if got := b.count("pumps"); got != 1 {
		t.Errorf("Expected 1 fetch with caching, got %d", got)
	}

	loader.Nozzles(ctx, nil)
	loader.Nozzles(ctx, ptr(1))
	loader.Nozzles(ctx, ptr(1))
	if got := b.count("nozzles"); got != 2 {
		t.Errorf("Expected filtered and unfiltered nozzles cached apart, got %d fetches", got)
	}

	loader.Invalidate()
	loader.Pumps(ctx)
	if got := b.count("pumps"); got != 2 {
		t.Errorf("Expected refetch after Invalidate, got %d", got)
	}
}

func TestReferenceLoader_FailuresNotCached(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackoffice()
	b.fetchErr = &api.StatusError{Method: "GET", Endpoint: api.FuelTypesEndpoint, StatusCode: 503}
	loader := NewReferenceLoader(b, defaultTestTTL, discardLogger())

	if fuels := loader.FuelTypes(ctx); fuels == nil || len(fuels) != 0 {
		t.Errorf("Expected empty, non-nil list on failure, got %v", fuels)
	}

	b.mu.Lock()
	b.fetchErr = nil
	b.mu.Unlock()
	if fuels := loader.FuelTypes(ctx); len(fuels) != 2 {
		t.Errorf("Expected fresh fetch after failure, got %d fuel types", len(fuels))
	}
}

func TestState_Subscribe(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.New(ctx, discardLogger())
	if err != nil {
		t.Fatalf("ledger.New() failed: %v", err)
	}
	defer l.Close()
	s := NewState(l, discardLogger())

	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		got = append(got, snap)
	})

	if _, err := s.AddTransaction(ctx, api.Transaction{Volume: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("AddTransaction() failed: %v", err)
	}
	s.SetError("nozzle is required")
	s.ClearError()
	unsubscribe()
	s.SetError("ignored")

	expected := []Snapshot{
		{Unprocessed: 1},
		{Unprocessed: 1, LastError: "nozzle is required"},
		{Unprocessed: 1},
	}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d notifications, got %d: %+v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("notification %d = %+v, expected %+v", i, got[i], expected[i])
		}
	}
}
