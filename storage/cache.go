package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskforge-sync/domain"
)

const evictTimeout = 2 * time.Second

type backend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardState, error)
	MoveCard(ctx context.Context, boardID, cardID string, req domain.MoveRequest) error
}

// Cache wraps the board API with a Redis-backed snapshot of each board's
// initial fetch.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.BoardState, error) {
	if board, ok := c.loadBoard(ctx, boardID); ok {
		return board, nil
	}

	board, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.BoardState{}, err
	}

	c.storeBoard(ctx, boardID, board)
	return board, nil
}

// MoveCard forwards the move and evicts the cached board once the server
// accepted it.
func (c *Cache) MoveCard(ctx context.Context, boardID, cardID string, req domain.MoveRequest) error {
	if err := c.base.MoveCard(ctx, boardID, cardID, req); err != nil {
		return err
	}

	c.Evict(ctx, boardID)
	return nil
}

// EvictOnBroadcast is a kanban:update handler. Any broadcast means another
// session changed the board, so its cached snapshot is dropped in the
// background and the next fetch goes to the API.
func (c *Cache) EvictOnBroadcast(data []byte) {
	u, err := domain.DecodeBoardUpdate(data)
	if err != nil || u.BoardID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
		defer cancel()
		c.Evict(ctx, u.BoardID)
	}()
}

// Evict drops the cached snapshot of boardID.
func (c *Cache) Evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
}

func (c *Cache) loadBoard(ctx context.Context, boardID string) (domain.BoardState, bool) {
	if c.redis == nil {
		return domain.BoardState{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the API without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return domain.BoardState{}, false
	}
	var board domain.BoardState
	if err := sonic.Unmarshal(data, &board); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.BoardState{}, false
	}
	return board, true
}

func (c *Cache) storeBoard(ctx context.Context, boardID string, board domain.BoardState) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(board)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
