package pumpsim

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Vee-data-analytics/new-sim/internal/ledger"
	"github.com/Vee-data-analytics/new-sim/pkg/api"
)

// Snapshot is what the status and error labels display.
type Snapshot struct {
	Unprocessed int    `json:"unprocessed"`
	LastError   string `json:"error"`
}

// State is the session's application state: the ledger of unprocessed
// transactions plus the last error. It changes only through its actions and
// notifies subscribers after each one.
type State struct {
	ledger *ledger.Ledger
	log    *slog.Logger

	mu          sync.Mutex
	unprocessed int
	lastError   string
	nextSubID   int
	subscribers map[int]func(Snapshot)
}

func NewState(l *ledger.Ledger, logger *slog.Logger) *State {
	return &State{
		ledger:      l,
		log:         logger,
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current label values.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Ledger exposes the underlying ledger for read-only queries.
func (s *State) Ledger() *ledger.Ledger {
	return s.ledger
}

// AddTransaction appends tx to the ledger.
func (s *State) AddTransaction(ctx context.Context, tx api.Transaction) (ledger.Entry, error) {
	s.mu.Lock()
	entry, err := s.ledger.Append(ctx, tx)
	if err != nil {
		s.mu.Unlock()
		return ledger.Entry{}, err
	}
	count, err := s.ledger.Count(ctx)
	if err != nil {
		s.log.Warn("Failed to count transactions", "error", err)
		count = s.unprocessed + 1
	}
	s.unprocessed = count
	s.log.Info("Transaction added", "id", entry.ID, "unprocessed", s.unprocessed)
	s.notifyLocked()
	return entry, nil
}

// SetError replaces the error label.
func (s *State) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.notifyLocked()
}

// ClearError empties the error label.
func (s *State) ClearError() {
	s.SetError("")
}

// Subscribe registers fn to receive a snapshot after every action. fn runs
// on the acting goroutine and must not call back into State.
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{Unprocessed: s.unprocessed, LastError: s.lastError}
}

// notifyLocked releases s.mu before calling subscribers.
func (s *State) notifyLocked() {
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
