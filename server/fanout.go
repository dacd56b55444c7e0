package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultFanoutChannel is the redis channel board broadcasts are published on.
const DefaultFanoutChannel = "taskforge:board-updates"

// Publisher delivers a frame to every connection in a board room.
type Publisher interface {
	Publish(ctx context.Context, boardID string, frame []byte) error
}

// LocalFanout broadcasts to the connections of this process only.
type LocalFanout struct {
	hub *Hub
}

func NewLocalFanout(hub *Hub) *LocalFanout {
	return &LocalFanout{hub: hub}
}

func (f *LocalFanout) Publish(_ context.Context, boardID string, frame []byte) error {
	f.hub.Broadcast(boardID, frame)
	return nil
}

type fanoutMessage struct {
	BoardID string          `json:"boardId"`
	Frame   json.RawMessage `json:"frame"`
}

// RedisFanout relays broadcasts through redis pub/sub so that every server
// instance delivers them to its own connections.
type RedisFanout struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisFanout(rc *redis.Client, channel string, hub *Hub, logger *log.Logger) *RedisFanout {
	if channel == "" {
		channel = DefaultFanoutChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisFanout{rc: rc, channel: channel, hub: hub, logger: logger, ready: make(chan struct{})}
}

func (f *RedisFanout) Publish(ctx context.Context, boardID string, frame []byte) error {
	data, err := sonic.Marshal(fanoutMessage{BoardID: boardID, Frame: frame})
	if err != nil {
		return err
	}
	return f.rc.Publish(ctx, f.channel, data).Err()
}

// Ready is closed once the first subscription is confirmed by redis.
func (f *RedisFanout) Ready() <-chan struct{} {
	return f.ready
}

// Run subscribes to the fan-out channel and delivers every message to the
// local hub until ctx is done. Lost subscriptions are re-established with
// backoff.
func (f *RedisFanout) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	for {
		if f.consume(ctx) {
			b.Reset()
		}
		if ctx.Err() != nil {
			return
		}
		delay := b.NextBackOff()
		f.logger.WithField("retry_in", delay).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume runs one subscription and reports whether it was established.
func (f *RedisFanout) consume(ctx context.Context) bool {
	sub := f.rc.Subscribe(ctx, f.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			f.logger.WithError(err).Error("subscribe board updates")
		}
		return false
	}
	f.readyOnce.Do(func() { close(f.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-ch:
			if !ok {
				return true
			}
			var m fanoutMessage
			if err := sonic.Unmarshal([]byte(msg.Payload), &m); err != nil {
				f.logger.WithError(err).Error("unable to parse board update")
				continue
			}
			n := f.hub.Broadcast(m.BoardID, m.Frame)
			f.logger.WithFields(log.Fields{"board_id": m.BoardID, "delivered": n}).Debug("board update relayed")
		}
	}
}
