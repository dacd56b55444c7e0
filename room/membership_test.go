package room

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"

	"taskforge-sync/domain"
	"taskforge-sync/transport"
)

type emitted struct {
	Event   string
	BoardID string
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	connects  int
	emitted   []emitted
	listeners map[int]transport.StateListener
	nextID    int
	changed   chan struct{}
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{
		connected: connected,
		listeners: map[int]transport.StateListener{},
		changed:   make(chan struct{}),
	}
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	p, _ := payload.(domain.RoomPayload)
	f.emitted = append(f.emitted, emitted{Event: event, BoardID: p.BoardID})
	return nil
}

func (f *fakeTransport) WaitFor(ctx context.Context, state transport.ConnectionState) error {
	for {
		f.mu.Lock()
		ok := f.connected == (state == transport.Connected)
		ch := f.changed
		f.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (f *fakeTransport) Notify(fn transport.StateListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	close(f.changed)
	f.changed = make(chan struct{})
	var fns []transport.StateListener
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	from, to := transport.Connected, transport.Reconnecting
	if connected {
		from, to = transport.Reconnecting, transport.Connected
	}
	for _, fn := range fns {
		fn(from, to)
	}
}

func (f *fakeTransport) frames() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emitted...)
}

type memoryLastBoard struct {
	mu    sync.Mutex
	saved []string
}

func (m *memoryLastBoard) SaveLastBoard(_ context.Context, boardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, boardID)
	return nil
}

func (m *memoryLastBoard) LastBoard(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return "", nil
	}
	return m.saved[len(m.saved)-1], nil
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestJoinEmitsJoinAndPersistsBoard(t *testing.T) {
	tr := newFakeTransport(true)
	store := &memoryLastBoard{}
	m := New(tr, store, quietLogger())

	if err := m.Join(context.Background(), "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if diff := cmp.Diff([]emitted{{domain.EventBoardJoin, "b1"}}, tr.frames()); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
	if id, joined := m.Current(); id != "b1" || !joined {
		t.Fatalf("unexpected membership %q %v", id, joined)
	}
	last, err := m.LastBoard(context.Background())
	if err != nil || last != "b1" {
		t.Fatalf("expected last board b1, got %q %v", last, err)
	}
}

func TestJoinSameBoardIsIdempotent(t *testing.T) {
	tr := newFakeTransport(true)
	m := New(tr, nil, quietLogger())

	for i := 0; i < 2; i++ {
		if err := m.Join(context.Background(), "b1"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if n := len(tr.frames()); n != 1 {
		t.Fatalf("expected one join frame, got %d", n)
	}
	if tr.connects != 2 {
		t.Fatalf("expected every join to ensure connectivity, got %d connects", tr.connects)
	}
	if id, joined := m.Current(); id != "b1" || !joined {
		t.Fatalf("unexpected membership %q %v", id, joined)
	}
}

func TestJoinOtherBoardLeavesPreviousFirst(t *testing.T) {
	tr := newFakeTransport(true)
	m := New(tr, nil, quietLogger())

	_ = m.Join(context.Background(), "b1")
	_ = m.Join(context.Background(), "b2")

	want := []emitted{
		{domain.EventBoardJoin, "b1"},
		{domain.EventBoardLeave, "b1"},
		{domain.EventBoardJoin, "b2"},
	}
	if diff := cmp.Diff(want, tr.frames()); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinWaitsForConnection(t *testing.T) {
	tr := newFakeTransport(false)
	m := New(tr, nil, quietLogger())

	go func() {
		time.Sleep(20 * time.Millisecond)
		tr.setConnected(true)
	}()
	if err := m.Join(context.Background(), "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if diff := cmp.Diff([]emitted{{domain.EventBoardJoin, "b1"}}, tr.frames()); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinGivesUpWaitingAndRejoinsOnConnect(t *testing.T) {
	tr := newFakeTransport(false)
	store := &memoryLastBoard{}
	m := New(tr, store, quietLogger())
	m.SetJoinWait(10 * time.Millisecond)

	start := time.Now()
	if err := m.Join(context.Background(), "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("join wait was not bounded")
	}
	if id, joined := m.Current(); id != "b1" || joined {
		t.Fatalf("expected pending membership, got %q %v", id, joined)
	}
	if len(store.saved) != 0 {
		t.Fatalf("unsuccessful join must not be persisted")
	}

	tr.setConnected(true)
	if diff := cmp.Diff([]emitted{{domain.EventBoardJoin, "b1"}}, tr.frames()); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
	if id, joined := m.Current(); id != "b1" || !joined {
		t.Fatalf("unexpected membership %q %v", id, joined)
	}
}

func TestReconnectRejoinsPreviousBoard(t *testing.T) {
	tr := newFakeTransport(true)
	m := New(tr, nil, quietLogger())
	_ = m.Join(context.Background(), "b1")

	tr.setConnected(false)
	if _, joined := m.Current(); joined {
		t.Fatalf("membership should be stale while disconnected")
	}
	tr.setConnected(true)

	want := []emitted{
		{domain.EventBoardJoin, "b1"},
		{domain.EventBoardJoin, "b1"},
	}
	if diff := cmp.Diff(want, tr.frames()); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestLeaveClearsRoom(t *testing.T) {
	tr := newFakeTransport(true)
	m := New(tr, nil, quietLogger())
	_ = m.Join(context.Background(), "b1")
	m.Leave("b1")

	if id, joined := m.Current(); id != "" || joined {
		t.Fatalf("expected no room, got %q %v", id, joined)
	}
	tr.setConnected(false)
	tr.setConnected(true)

	want := []emitted{
		{domain.EventBoardJoin, "b1"},
		{domain.EventBoardLeave, "b1"},
	}
	if diff := cmp.Diff(want, tr.frames()); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseLeavesAndStopsFollowingReconnects(t *testing.T) {
	tr := newFakeTransport(true)
	m := New(tr, nil, quietLogger())
	_ = m.Join(context.Background(), "b1")
	m.Close()

	tr.mu.Lock()
	listeners := len(tr.listeners)
	tr.mu.Unlock()
	if listeners != 0 {
		t.Fatalf("expected listener to be removed, %d left", listeners)
	}
	frames := tr.frames()
	if frames[len(frames)-1] != (emitted{domain.EventBoardLeave, "b1"}) {
		t.Fatalf("expected trailing leave, got %v", frames)
	}
}

// stalledLastBoard blocks every save until release is closed.
type stalledLastBoard struct {
	entered chan bool
	release chan struct{}
}

func (s *stalledLastBoard) SaveLastBoard(ctx context.Context, _ string) error {
	_, bounded := ctx.Deadline()
	s.entered <- bounded
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stalledLastBoard) LastBoard(context.Context) (string, error) { return "", nil }

func TestRejoinDoesNotWaitForSlowPersistence(t *testing.T) {
	tr := newFakeTransport(false)
	store := &stalledLastBoard{entered: make(chan bool, 1), release: make(chan struct{})}
	defer close(store.release)
	m := New(tr, store, quietLogger())
	m.SetJoinWait(time.Millisecond)
	if err := m.Join(context.Background(), "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	reconnected := make(chan struct{})
	go func() {
		tr.setConnected(true)
		close(reconnected)
	}()
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatalf("reconnect listener blocked on persistence")
	}

	select {
	case bounded := <-store.entered:
		if !bounded {
			t.Fatalf("persistence must run with a deadline")
		}
	case <-time.After(time.Second):
		t.Fatalf("rejoined board was not persisted")
	}
	// The save is still in flight here.
	if id, joined := m.Current(); id != "b1" || !joined {
		t.Fatalf("unexpected membership %q %v", id, joined)
	}
}

func TestJoinPersistsWithDeadlineOutsideLock(t *testing.T) {
	tr := newFakeTransport(true)
	store := &stalledLastBoard{entered: make(chan bool, 1), release: make(chan struct{})}
	m := New(tr, store, quietLogger())

	done := make(chan error, 1)
	go func() { done <- m.Join(context.Background(), "b1") }()

	select {
	case bounded := <-store.entered:
		if !bounded {
			t.Fatalf("persistence must run with a deadline")
		}
	case <-time.After(time.Second):
		t.Fatalf("join did not persist the board")
	}
	if id, joined := m.Current(); id != "b1" || !joined {
		t.Fatalf("unexpected membership %q %v", id, joined)
	}
	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("join: %v", err)
	}
}
