package reconcile

import (
	"sync"

	"github.com/park285/Cheese-Relay-Chess/internal/domain"
)

// Sync tells whether the current view has been observed on the network.
type Sync int

const (
	Confirmed Sync = iota
	Pending
)

func (s Sync) String() string {
	if s == Pending {
		return "pending"
	}
	return "confirmed"
}

// View is the current record of a game plus its sync state.
type View struct {
	Record domain.GameRecord
	Sync   Sync
}

// Engine holds the reconciled state of one game. The confirmed record is the
// newest record seen from the network; pending is a locally applied record
// that has not been echoed or acknowledged yet and is newer than confirmed.
type Engine struct {
	gameID string

	mu        sync.Mutex
	confirmed *domain.GameRecord
	pending   *domain.GameRecord
}

func NewEngine(gameID string) *Engine {
	return &Engine{gameID: gameID}
}

func (e *Engine) GameID() string { return e.gameID }

// Ingest feeds a network record through the merge policy and reports whether
// the view changed.
func (e *Engine) Ingest(rec domain.GameRecord) (bool, error) {
	if rec.GameID != e.gameID {
		return false, ErrGameMismatch
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil && e.pending.ClaimedAt == rec.ClaimedAt && e.pending.SameContent(rec) {
		e.confirmed = &rec
		e.pending = nil
		return true, nil
	}
	if !Supersedes(e.currentLocked(), rec) {
		// An older network record can still advance the confirmed base
		// underneath a pending local record.
		if e.pending != nil && Supersedes(e.confirmed, rec) {
			e.confirmed = &rec
		}
		return false, nil
	}
	e.confirmed = &rec
	e.pending = nil
	return true, nil
}

// ApplyLocal installs rec as the optimistic view. It is rejected when it does
// not supersede the current view.
func (e *Engine) ApplyLocal(rec domain.GameRecord) (bool, error) {
	if rec.GameID != e.gameID {
		return false, ErrGameMismatch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !Supersedes(e.currentLocked(), rec) {
		return false, nil
	}
	e.pending = &rec
	return true, nil
}

// Confirm promotes the pending record once the network acknowledged it.
func (e *Engine) Confirm(rec domain.GameRecord) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil || e.pending.ClaimedAt != rec.ClaimedAt || !e.pending.SameContent(rec) {
		return false
	}
	e.confirmed = e.pending
	e.pending = nil
	return true
}

// Current returns the record the game should be shown as.
func (e *Engine) Current() (domain.GameRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.currentLocked()
	if cur == nil {
		return domain.GameRecord{}, false
	}
	return *cur, true
}

// Confirmed returns the newest record seen from the network.
func (e *Engine) Confirmed() (domain.GameRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.confirmed == nil {
		return domain.GameRecord{}, false
	}
	return *e.confirmed, true
}

func (e *Engine) View() (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		return View{Record: *e.pending, Sync: Pending}, true
	}
	if e.confirmed != nil {
		return View{Record: *e.confirmed, Sync: Confirmed}, true
	}
	return View{}, false
}

func (e *Engine) currentLocked() *domain.GameRecord {
	if e.pending != nil {
		return e.pending
	}
	return e.confirmed
}
