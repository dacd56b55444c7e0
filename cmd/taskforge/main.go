package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"taskforge-sync/api"
	"taskforge-sync/board"
	"taskforge-sync/domain"
	"taskforge-sync/internal/redisconn"
	"taskforge-sync/room"
	"taskforge-sync/storage"
	"taskforge-sync/transport"
)

type boardBackend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardState, error)
	board.Confirmer
}

func main() {
	cfg, err := loadConfig(os.Args[1:], nil)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, cfg Config, logger *log.Logger) error {
	client := api.New(cfg.ServerURL, cfg.Token)
	var backend boardBackend = client
	var prefs room.LastBoardStore
	var cache *storage.Cache

	if cfg.RedisConn != "" {
		rc, err := redisconn.New(cfg.RedisConn)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		prefs = storage.NewRedisPreferences(rc, cfg.UserID)
		if cfg.CacheTTL > 0 {
			cache = storage.NewCache(client, rc, cfg.CacheTTL)
			backend = cache
		}
	} else {
		path := cfg.PreferencesPath
		if path == "" {
			p, err := storage.DefaultPreferencesPath()
			if err != nil {
				return fmt.Errorf("preferences: %w", err)
			}
			path = p
		}
		prefs = storage.NewFilePreferences(path)
	}

	tcfg := transport.DefaultConfig(cfg.WebsocketURL())
	tcfg.Token = cfg.Token
	tcfg.MaxAttempts = cfg.ReconnectAttempts
	session := transport.NewSession(tcfg, nil, logger)
	defer session.Disconnect()
	session.Notify(func(from, to transport.ConnectionState) {
		logger.WithFields(log.Fields{"from": from.String(), "state": to.String()}).Info("connection state changed")
	})
	if cache != nil {
		session.Subscribe(domain.EventBoardUpdate, cache.EvictOnBroadcast)
	}
	for _, event := range domain.PassThroughEvents {
		session.Subscribe(event, func(data []byte) {
			logger.WithField("event", event).Debug(string(data))
		})
	}

	membership := room.New(session, prefs, logger)
	defer membership.Close()

	boardID := cfg.Board
	if boardID == "" {
		last, err := membership.LastBoard(ctx)
		if err != nil {
			logger.WithError(err).Warn("unable to read last board")
		}
		boardID = last
	}
	if boardID == "" {
		return errors.New("no board selected, pass --board")
	}

	state, err := backend.FetchBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("fetch board %s: %w", boardID, err)
	}
	store := board.NewStore(boardID, logger)
	store.Observe(func(b domain.BoardState, version uint64) {
		logger.WithFields(log.Fields{
			"board_id": b.ID,
			"version":  version,
			"todo":     len(b.Todo),
			"doing":    len(b.Doing),
			"done":     len(b.Done),
		}).Debug("board changed")
	})
	store.Load(state)

	listener := board.NewListener(session, store, logger)
	listener.Start()
	defer listener.Stop()

	if err := membership.Join(ctx, boardID); err != nil {
		return err
	}
	logger.WithField("board_id", boardID).Info("board opened")

	if cfg.MoveCard != "" {
		coordinator := board.NewCoordinator(store, backend, nil, logger)
		res, err := moveOnce(ctx, coordinator, store, cfg)
		fields := log.Fields{"card_id": cfg.MoveCard, "to": cfg.MoveTo, "status": res.Status}
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("move failed")
		} else {
			logger.WithFields(fields).Info("card moved")
		}
	}

	<-ctx.Done()
	logger.Info("leaving board")
	return nil
}

func moveOnce(ctx context.Context, c *board.Coordinator, store *board.Store, cfg Config) (board.MoveResult, error) {
	snap := store.Snapshot()
	from, index, ok := snap.Locate(cfg.MoveCard)
	if !ok {
		return board.MoveResult{Status: domain.MoveRejected}, fmt.Errorf("card %s: %w", cfg.MoveCard, domain.ErrCardNotFound)
	}
	return c.Move(ctx, domain.MoveOperation{
		CardID:    cfg.MoveCard,
		FromList:  from,
		FromIndex: index,
		ToList:    cfg.MoveTo,
		ToIndex:   cfg.MoveToIndex,
	})
}
