package board

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskforge-sync/domain"
)

// Observer is called after every change of the store with the new snapshot.
type Observer func(state domain.BoardState, version uint64)

// Store holds the client-side state of the board currently on screen.
//
// Every mutation bumps a version number. Authoritative overwrites (the
// initial load and server broadcasts) additionally record the version at
// which they happened, so that an optimistic move can tell whether the
// server has superseded it while its confirmation was in flight.
type Store struct {
	logger *log.Logger

	mu            sync.RWMutex
	state         domain.BoardState
	version       uint64
	authoritative uint64
	observers     []Observer
}

func NewStore(boardID string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{logger: logger, state: domain.NewBoardState(boardID)}
}

// BoardID returns the board the store currently tracks.
func (s *Store) BoardID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ID
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() domain.BoardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Observe registers fn for every subsequent change.
func (s *Store) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Reset discards the current state and starts tracking boardID with an
// empty board.
func (s *Store) Reset(boardID string) {
	s.mu.Lock()
	s.state = domain.NewBoardState(boardID)
	s.version++
	s.authoritative = s.version
	s.mu.Unlock()
	s.emit()
}

// Load replaces the whole state with the result of an initial fetch.
func (s *Store) Load(state domain.BoardState) {
	s.mu.Lock()
	id := s.state.ID
	next := state.Clone()
	if next.ID == "" {
		next.ID = id
	}
	next.WIPLimits = domain.DefaultWIPLimits().Merge(state.WIPLimits)
	s.state = next
	s.version++
	s.authoritative = s.version
	s.mu.Unlock()
	s.emit()
}

// ApplyBroadcast overwrites local state with a full-state broadcast. Lists
// absent from the payload, or not encoded as arrays, are left untouched, as
// are ill-typed optional fields. A broadcast for another board, or one with a
// card lacking an id, is discarded whole and false is returned.
func (s *Store) ApplyBroadcast(u domain.BoardUpdate) bool {
	s.mu.Lock()
	if u.BoardID != s.state.ID {
		current := s.state.ID
		s.mu.Unlock()
		s.logger.WithFields(log.Fields{"board_id": current, "update_board_id": u.BoardID}).Debug("ignoring broadcast for another board")
		return false
	}
	lists, err := u.Lists()
	if err != nil {
		s.mu.Unlock()
		s.logger.WithField("board_id", u.BoardID).WithError(err).Warn("dropping malformed broadcast")
		return false
	}
	next := s.state.Clone()
	for l, cards := range lists {
		next.SetList(l, cards)
	}
	if limits, ok := u.Limits(); ok {
		next.WIPLimits = next.WIPLimits.Merge(limits)
	}
	if labels, ok := u.LabelSet(); ok {
		next.Labels = labels
	}
	if name, ok := u.BoardName(); ok {
		next.Name = name
	}
	if dups := next.DuplicateIDs(); len(dups) > 0 {
		s.logger.WithFields(log.Fields{"board_id": next.ID, "card_ids": dups}).Warn("broadcast contains duplicate cards")
	}
	s.state = next
	s.version++
	s.authoritative = s.version
	s.mu.Unlock()
	s.emit()
	return true
}

// Mutate applies fn to a copy of the state and commits it when fn succeeds.
// It returns the state before the change and the version after it. When fn
// fails nothing changes.
func (s *Store) Mutate(fn func(*domain.BoardState) error) (domain.BoardState, uint64, error) {
	s.mu.Lock()
	prev := s.state.Clone()
	next := s.state.Clone()
	if err := fn(&next); err != nil {
		v := s.version
		s.mu.Unlock()
		return prev, v, err
	}
	s.state = next
	s.version++
	v := s.version
	s.mu.Unlock()
	s.emit()
	return prev, v, nil
}

// RollbackOutcome tells how a failed optimistic move was reverted.
type RollbackOutcome int

const (
	// RollbackRestored means the pre-move lists were put back exactly.
	RollbackRestored RollbackOutcome = iota
	// RollbackUndone means other local changes happened after the move, so
	// only the moved card was put back.
	RollbackUndone
	// RollbackSuperseded means a broadcast replaced the state after the move
	// and the stale snapshot was not restored.
	RollbackSuperseded
	// RollbackSkipped means the card was no longer where the move put it.
	RollbackSkipped
)

func (o RollbackOutcome) String() string {
	switch o {
	case RollbackRestored:
		return "restored"
	case RollbackUndone:
		return "undone"
	case RollbackSuperseded:
		return "superseded"
	case RollbackSkipped:
		return "skipped"
	}
	return "unknown"
}

// Rollback reverts the optimistic move op committed at version, given the
// state captured before it. The decision and the write happen under one lock.
func (s *Store) Rollback(version uint64, snapshot domain.BoardState, op domain.MoveOperation) RollbackOutcome {
	s.mu.Lock()
	if s.authoritative > version {
		s.mu.Unlock()
		return RollbackSuperseded
	}
	next := s.state.Clone()
	outcome := RollbackRestored
	if s.version == version {
		for _, l := range domain.Lists {
			next.SetList(l, cloneList(snapshot.List(l)))
		}
	} else {
		outcome = RollbackUndone
		l, _, ok := next.Locate(op.CardID)
		_, orig, _ := snapshot.Locate(op.CardID)
		undo := domain.MoveOperation{CardID: op.CardID, FromList: op.ToList, ToList: op.FromList, ToIndex: orig}
		if !ok || l != op.ToList || next.ApplyMove(undo) != nil {
			s.mu.Unlock()
			return RollbackSkipped
		}
	}
	s.state = next
	s.version++
	s.mu.Unlock()
	s.emit()
	return outcome
}

// ConfirmMove stamps the moved card's updatedAt unless the server state
// replaced the local one after version. It reports whether the stamp was
// applied.
func (s *Store) ConfirmMove(version uint64, cardID string, at time.Time) bool {
	s.mu.Lock()
	if s.authoritative > version {
		s.mu.Unlock()
		return false
	}
	next := s.state.Clone()
	l, i, ok := next.Locate(cardID)
	if !ok {
		s.mu.Unlock()
		return false
	}
	next.List(l)[i].UpdatedAt = at
	s.state = next
	s.version++
	s.mu.Unlock()
	s.emit()
	return true
}

// SupersededSince reports whether an authoritative overwrite happened after
// version.
func (s *Store) SupersededSince(version uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authoritative > version
}

func (s *Store) emit() {
	s.mu.RLock()
	observers := append([]Observer(nil), s.observers...)
	state := s.state.Clone()
	v := s.version
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(state, v)
	}
}

func cloneList(cards []domain.Card) []domain.Card {
	out := make([]domain.Card, len(cards))
	copy(out, cards)
	return out
}
