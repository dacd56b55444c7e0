package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskforge-sync/domain"
)

const tracerName = "taskforge-sync/board"

// Confirmer asks the server to commit a move.
type Confirmer interface {
	MoveCard(ctx context.Context, boardID, cardID string, req domain.MoveRequest) error
}

// MoveResult describes how a move ended.
type MoveResult struct {
	Status domain.MoveStatus
	// Rollback is set when Status is MoveRolledBack.
	Rollback RollbackOutcome
	// Superseded is set when a broadcast replaced the board state while the
	// confirmation was in flight.
	Superseded bool
}

// Coordinator runs card moves: admission check, optimistic apply, remote
// confirmation and rollback.
type Coordinator struct {
	store     *Store
	confirmer Confirmer
	notifier  Notifier
	logger    *log.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewCoordinator(store *Store, confirmer Confirmer, notifier Notifier, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Coordinator{
		store:     store,
		confirmer: confirmer,
		notifier:  notifier,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// SetTracer replaces the tracer obtained from the global provider.
func (c *Coordinator) SetTracer(t trace.Tracer) {
	c.tracer = t
}

// Move relocates a card. A move into a list at its WIP limit is rejected
// before anything changes. Otherwise the store is updated at once and the
// server is asked to confirm; on failure the pre-move lists are restored
// unless a broadcast has replaced them in the meantime, in which case the
// broadcast stands.
func (c *Coordinator) Move(ctx context.Context, op domain.MoveOperation) (MoveResult, error) {
	ctx, span := c.tracer.Start(ctx, "board.move", trace.WithAttributes(
		attribute.String("card.id", op.CardID),
		attribute.String("move.from", string(op.FromList)),
		attribute.String("move.to", string(op.ToList)),
		attribute.Int("move.to_index", op.ToIndex),
	))
	defer span.End()

	fields := log.Fields{"card_id": op.CardID, "from": op.FromList, "to": op.ToList, "to_index": op.ToIndex}

	var boardID string
	snapshot, version, err := c.store.Mutate(func(b *domain.BoardState) error {
		boardID = b.ID
		if err := op.Admit(b); err != nil {
			return err
		}
		return b.ApplyMove(op)
	})
	if err != nil {
		var wipErr *domain.WIPLimitError
		if errors.As(err, &wipErr) {
			c.notifier.Warn("wip:"+string(op.ToList), fmt.Sprintf("List %q is at its WIP limit of %d", op.ToList, wipErr.Limit))
			c.notifier.Flash(op.ToList)
		}
		c.logger.WithFields(fields).WithError(err).Info("move rejected")
		span.SetAttributes(attribute.String("move.status", domain.MoveRejected.String()))
		span.SetStatus(codes.Error, err.Error())
		return MoveResult{Status: domain.MoveRejected}, err
	}
	span.SetAttributes(attribute.String("board.id", boardID))
	fields["board_id"] = boardID
	c.logger.WithFields(fields).Debug("move pending confirmation")

	confirmErr := c.confirmer.MoveCard(ctx, boardID, op.CardID, op.Request())
	if confirmErr == nil {
		res := MoveResult{Status: domain.MoveConfirmed}
		if !c.store.ConfirmMove(version, op.CardID, c.now()) {
			res.Superseded = c.store.SupersededSince(version)
			c.logger.WithFields(fields).Debug("move confirmed after the board was replaced, keeping server state")
		}
		span.SetAttributes(
			attribute.String("move.status", res.Status.String()),
			attribute.Bool("move.superseded", res.Superseded),
		)
		return res, nil
	}

	outcome := c.store.Rollback(version, snapshot, op)
	res := MoveResult{
		Status:     domain.MoveRolledBack,
		Rollback:   outcome,
		Superseded: outcome == RollbackSuperseded,
	}
	c.logger.WithFields(fields).WithField("rollback", outcome.String()).WithError(confirmErr).Warn("move failed")
	c.notifier.Error(userMessage(confirmErr))
	span.SetAttributes(
		attribute.String("move.status", res.Status.String()),
		attribute.String("move.rollback", outcome.String()),
	)
	span.RecordError(confirmErr)
	span.SetStatus(codes.Error, confirmErr.Error())
	return res, fmt.Errorf("move %s: %w", op.CardID, confirmErr)
}

// userMessage prefers the message supplied by the server.
func userMessage(err error) string {
	var m interface{ UserMessage() string }
	if errors.As(err, &m) && m.UserMessage() != "" {
		return m.UserMessage()
	}
	return "Could not move the card, your change was reverted."
}
