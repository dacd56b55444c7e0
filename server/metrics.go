package server

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type moveRequestMetrics struct {
	logger            *log.Logger
	start             time.Time
	boardID           string
	cardID            string
	authDuration      time.Duration
	applyDuration     time.Duration
	broadcastDuration time.Duration
	duplicate         bool
	errorStage        string
}

func newMoveRequestMetrics(logger *log.Logger, boardID, cardID string) *moveRequestMetrics {
	return &moveRequestMetrics{
		logger:  logger,
		start:   time.Now(),
		boardID: boardID,
		cardID:  cardID,
	}
}

func (m *moveRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *moveRequestMetrics) ObserveApply(d time.Duration) {
	if d > 0 {
		m.applyDuration = d
	}
}

func (m *moveRequestMetrics) ObserveBroadcast(d time.Duration) {
	if d > 0 {
		m.broadcastDuration = d
	}
}

func (m *moveRequestMetrics) SetDuplicate() {
	m.duplicate = true
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *moveRequestMetrics) Fields(status int, err error) log.Fields {
	fields := log.Fields{
		"route":     "/boards/:boardId/cards/:cardId/move",
		"board_id":  m.boardID,
		"card_id":   m.cardID,
		"status":    status,
		"total_ms":  durationToMillis(time.Since(m.start)),
		"duplicate": m.duplicate,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.applyDuration > 0 {
		fields["apply_ms"] = durationToMillis(m.applyDuration)
	}
	if m.broadcastDuration > 0 {
		fields["broadcast_ms"] = durationToMillis(m.broadcastDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}

func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	m.logger.WithFields(m.Fields(status, err)).Info("boards.move.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
