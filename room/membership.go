package room

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskforge-sync/domain"
	"taskforge-sync/transport"
)

// DefaultJoinWait bounds how long Join waits for the transport to connect
// before emitting the join request anyway.
const DefaultJoinWait = time.Second

// persistTimeout bounds a single write of the last visited board.
const persistTimeout = 2 * time.Second

// Transport is the part of transport.Session used by Membership.
type Transport interface {
	Connect()
	Emit(event string, payload any) error
	WaitFor(ctx context.Context, state transport.ConnectionState) error
	Notify(fn transport.StateListener) func()
}

// LastBoardStore persists the last visited board id.
type LastBoardStore interface {
	SaveLastBoard(ctx context.Context, boardID string) error
	LastBoard(ctx context.Context) (string, error)
}

// Membership tracks the single board room a session is joined to.
type Membership struct {
	transport Transport
	store     LastBoardStore
	logger    *log.Logger
	joinWait  time.Duration

	mu      sync.Mutex
	boardID string
	joined  bool
	stop    func()
}

func New(t Transport, store LastBoardStore, logger *log.Logger) *Membership {
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Membership{
		transport: t,
		store:     store,
		logger:    logger,
		joinWait:  DefaultJoinWait,
	}
	m.stop = t.Notify(m.onStateChange)
	return m
}

// SetJoinWait overrides DefaultJoinWait.
func (m *Membership) SetJoinWait(d time.Duration) {
	m.mu.Lock()
	m.joinWait = d
	m.mu.Unlock()
}

// Current returns the board room of the session and whether the join
// request reached the server.
func (m *Membership) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boardID, m.joined
}

// Join makes boardID the session's room, leaving the previous one first.
// Joining the current room again only makes sure the transport is connecting.
func (m *Membership) Join(ctx context.Context, boardID string) error {
	if boardID == "" {
		return errors.New("join: empty board id")
	}
	m.transport.Connect()

	m.mu.Lock()
	if m.boardID == boardID {
		m.mu.Unlock()
		return nil
	}
	prev, wasJoined := m.boardID, m.joined
	m.boardID, m.joined = boardID, false
	wait := m.joinWait
	m.mu.Unlock()

	if prev != "" && wasJoined {
		m.emitLeave(prev)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	err := m.transport.WaitFor(waitCtx, transport.Connected)
	cancel()
	if err != nil {
		m.logger.WithField("board_id", boardID).WithError(err).Warn("transport not connected, sending join anyway")
	}

	m.mu.Lock()
	if m.boardID != boardID || m.joined {
		// Switched away meanwhile, or the reconnect listener already joined.
		m.mu.Unlock()
		return nil
	}
	joined := m.emitJoinLocked()
	m.mu.Unlock()
	if !joined {
		m.logger.WithField("board_id", boardID).Info("join deferred until the transport reconnects")
		return nil
	}
	m.persist(ctx, boardID)
	return nil
}

// Leave emits a leave for boardID without waiting for an acknowledgement and
// clears the current room when it matches.
func (m *Membership) Leave(boardID string) {
	if boardID == "" {
		return
	}
	m.mu.Lock()
	if m.boardID == boardID {
		m.boardID, m.joined = "", false
	}
	m.mu.Unlock()
	m.emitLeave(boardID)
}

// Close leaves the current room and stops following reconnects.
func (m *Membership) Close() {
	m.mu.Lock()
	boardID := m.boardID
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	m.Leave(boardID)
}

// LastBoard returns the board id persisted by the last successful join.
func (m *Membership) LastBoard(ctx context.Context) (string, error) {
	if m.store == nil {
		return "", nil
	}
	return m.store.LastBoard(ctx)
}

// onStateChange runs on the transport's reader goroutine, so the rejoined
// board is persisted in the background.
func (m *Membership) onStateChange(_, to transport.ConnectionState) {
	m.mu.Lock()
	if to != transport.Connected {
		m.joined = false
		m.mu.Unlock()
		return
	}
	if m.boardID == "" || m.joined {
		m.mu.Unlock()
		return
	}
	boardID := m.boardID
	joined := m.emitJoinLocked()
	m.mu.Unlock()
	if !joined {
		return
	}
	m.logger.WithField("board_id", boardID).Info("rejoined board after reconnect")
	go m.persist(context.Background(), boardID)
}

// emitJoinLocked sends the join for m.boardID. m.mu must be held.
func (m *Membership) emitJoinLocked() bool {
	if err := m.transport.Emit(domain.EventBoardJoin, domain.RoomPayload{BoardID: m.boardID}); err != nil {
		return false
	}
	m.joined = true
	return true
}

func (m *Membership) persist(ctx context.Context, boardID string) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := m.store.SaveLastBoard(ctx, boardID); err != nil {
		m.logger.WithField("board_id", boardID).WithError(err).Warn("unable to persist last board")
	}
}

func (m *Membership) emitLeave(boardID string) {
	if err := m.transport.Emit(domain.EventBoardLeave, domain.RoomPayload{BoardID: boardID}); err != nil {
		m.logger.WithField("board_id", boardID).WithError(err).Debug("leave not delivered")
	}
}
