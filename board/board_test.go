package board

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"

	"taskforge-sync/domain"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func cards(ids ...string) []domain.Card {
	out := make([]domain.Card, len(ids))
	for i, id := range ids {
		out[i] = domain.Card{ID: id, Title: "card " + id}
	}
	return out
}

func loadedStore(t *testing.T, todo, doing, done []string, limits domain.WIPLimits) *Store {
	t.Helper()
	s := NewStore("b1", quietLogger())
	b := domain.NewBoardState("b1")
	b.Todo = cards(todo...)
	b.Doing = cards(doing...)
	b.Done = cards(done...)
	b.WIPLimits = limits
	s.Load(b)
	return s
}

type lists struct {
	Todo, Doing, Done []string
}

func idsOf(b domain.BoardState) lists {
	return lists{Todo: b.IDs(domain.Todo), Doing: b.IDs(domain.Doing), Done: b.IDs(domain.Done)}
}

func assertLists(t *testing.T, s *Store, want lists) {
	t.Helper()
	snap := s.Snapshot()
	if diff := cmp.Diff(want, idsOf(snap)); diff != "" {
		t.Fatalf("lists mismatch (-want +got):\n%s", diff)
	}
}

func encode(t *testing.T, b domain.BoardState) []byte {
	t.Helper()
	u, err := domain.NewBoardUpdate(b)
	if err != nil {
		t.Fatalf("build update: %v", err)
	}
	data, err := sonic.Marshal(u)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	return data
}

// stubConfirmer answers move confirmations. When gate is set every call
// blocks until a value is received from it.
type stubConfirmer struct {
	mu      sync.Mutex
	calls   []domain.MoveRequest
	ids     []string
	err     error
	gate    chan error
	entered chan struct{}
}

func (c *stubConfirmer) MoveCard(ctx context.Context, boardID, cardID string, req domain.MoveRequest) error {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.ids = append(c.ids, cardID)
	gate, entered, err := c.gate, c.entered, c.err
	c.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case err = <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

type note struct {
	Kind string
	Key  string
	Text string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *recordingNotifier) Warn(key, message string) {
	n.mu.Lock()
	n.notes = append(n.notes, note{Kind: "warn", Key: key, Text: message})
	n.mu.Unlock()
}

func (n *recordingNotifier) Error(message string) {
	n.mu.Lock()
	n.notes = append(n.notes, note{Kind: "error", Text: message})
	n.mu.Unlock()
}

func (n *recordingNotifier) Flash(list domain.ListName) {
	n.mu.Lock()
	n.notes = append(n.notes, note{Kind: "flash", Key: string(list)})
	n.mu.Unlock()
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.notes))
	for i, x := range n.notes {
		out[i] = x.Kind
	}
	return out
}

var errConfirm = errors.New("server unavailable")

func testTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}
