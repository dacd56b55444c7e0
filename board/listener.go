package board

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"taskforge-sync/domain"
	"taskforge-sync/transport"
)

type subscribeFunc func(event string, handler transport.Handler) (unsubscribe func())

// Listener applies kanban:update broadcasts to a Store for as long as the
// session is in the board's room.
type Listener struct {
	subscribe subscribeFunc
	store     *Store
	logger    *log.Logger

	mu          sync.Mutex
	unsubscribe func()
}

func NewListener(session *transport.Session, store *Store, logger *log.Logger) *Listener {
	return newListener(func(event string, h transport.Handler) func() {
		return session.Subscribe(event, h).Unsubscribe
	}, store, logger)
}

func newListener(subscribe subscribeFunc, store *Store, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Listener{subscribe: subscribe, store: store, logger: logger}
}

// Start subscribes to board broadcasts. Calling it twice has no effect.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsubscribe != nil {
		return
	}
	l.unsubscribe = l.subscribe(domain.EventBoardUpdate, l.Handle)
}

// Stop removes the listener's own subscription.
func (l *Listener) Stop() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Handle decodes one broadcast payload and applies it to the store.
func (l *Listener) Handle(data []byte) {
	u, err := domain.DecodeBoardUpdate(data)
	if err != nil {
		l.logger.WithError(err).Warn("unable to parse board update")
		return
	}
	if l.store.ApplyBroadcast(u) {
		l.logger.WithField("board_id", u.BoardID).Debug("board update applied")
	}
}
