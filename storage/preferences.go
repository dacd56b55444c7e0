package storage

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/natefinch/atomic"
	"github.com/redis/go-redis/v9"
)

const lastBoardKeyPrefix = "prefs:last-board:"

type preferences struct {
	LastBoardID string `json:"lastBoardId"`
}

// FilePreferences keeps the last opened board in a small JSON file.
type FilePreferences struct {
	path string
	mu   sync.Mutex
}

func NewFilePreferences(path string) *FilePreferences {
	return &FilePreferences{path: path}
}

// DefaultPreferencesPath returns the preferences file under the user's
// config directory.
func DefaultPreferencesPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "taskforge", "preferences.json"), nil
}

func (p *FilePreferences) SaveLastBoard(_ context.Context, boardID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := sonic.Marshal(preferences{LastBoardID: boardID})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(p.path, bytes.NewReader(data))
}

// LastBoard returns the saved board id, or "" when nothing was saved yet.
func (p *FilePreferences) LastBoard(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var prefs preferences
	if err := sonic.Unmarshal(data, &prefs); err != nil {
		return "", err
	}
	return prefs.LastBoardID, nil
}

// RedisPreferences keeps the last opened board per user in Redis so it
// follows the user across machines.
type RedisPreferences struct {
	client *redis.Client
	userID string
}

func NewRedisPreferences(client *redis.Client, userID string) *RedisPreferences {
	return &RedisPreferences{client: client, userID: userID}
}

func (p *RedisPreferences) SaveLastBoard(ctx context.Context, boardID string) error {
	return p.client.Set(ctx, lastBoardKeyPrefix+p.userID, boardID, 0).Err()
}

func (p *RedisPreferences) LastBoard(ctx context.Context) (string, error) {
	id, err := p.client.Get(ctx, lastBoardKeyPrefix+p.userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}
