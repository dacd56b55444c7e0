package server

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/tailscale/hujson"

	"taskforge-sync/domain"
)

var ErrBoardNotFound = errors.New("board not found")

// Repository keeps boards in memory.
type Repository struct {
	mu     sync.RWMutex
	boards map[string]domain.BoardState
}

func NewRepository(boards ...domain.BoardState) *Repository {
	r := &Repository{boards: make(map[string]domain.BoardState)}
	for _, b := range boards {
		r.Put(b)
	}
	return r
}

// LoadRepository reads seed boards from a JSON file that may contain
// comments and trailing commas.
func LoadRepository(path string) (*Repository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	var boards []domain.BoardState
	if err := sonic.Unmarshal(std, &boards); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return NewRepository(boards...), nil
}

// Put stores b, filling in default WIP limits where b has none.
func (r *Repository) Put(b domain.BoardState) {
	b = b.Clone()
	b.WIPLimits = domain.DefaultWIPLimits().Merge(b.WIPLimits)
	r.mu.Lock()
	r.boards[b.ID] = b
	r.mu.Unlock()
}

func (r *Repository) Get(boardID string) (domain.BoardState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[boardID]
	if !ok {
		return domain.BoardState{}, ErrBoardNotFound
	}
	return b.Clone(), nil
}

// Move applies a move request to the stored board and returns the new
// state. The card is located by id; req.FromList is only checked for
// validity. Moves into a list at its WIP limit are rejected.
func (r *Repository) Move(boardID, cardID string, req domain.MoveRequest) (domain.BoardState, error) {
	if !req.FromList.Valid() || !req.ToList.Valid() {
		return domain.BoardState{}, domain.ErrUnknownList
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boards[boardID]
	if !ok {
		return domain.BoardState{}, ErrBoardNotFound
	}
	next := b.Clone()
	from, idx, ok := next.Locate(cardID)
	if !ok {
		return domain.BoardState{}, fmt.Errorf("card %s: %w", cardID, domain.ErrCardNotFound)
	}
	op := domain.MoveOperation{CardID: cardID, FromList: from, ToList: req.ToList, FromIndex: idx, ToIndex: req.ToIndex}
	if err := op.Admit(&next); err != nil {
		return domain.BoardState{}, err
	}
	if err := next.ApplyMove(op); err != nil {
		return domain.BoardState{}, err
	}
	r.boards[boardID] = next
	return next.Clone(), nil
}
