package board

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"taskforge-sync/domain"
)

// WarningWindow is the period during which a repeated warning with the same
// key is suppressed.
const WarningWindow = 1500 * time.Millisecond

// Notifier surfaces move outcomes to the user.
type Notifier interface {
	// Warn shows a transient warning. Repeats of key may be suppressed.
	Warn(key, message string)
	// Error shows an error message.
	Error(message string)
	// Flash highlights a board column.
	Flash(list domain.ListName)
}

// LogNotifier writes user notifications to a logrus logger and drops warnings
// repeated within WarningWindow.
type LogNotifier struct {
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogNotifier{logger: logger, now: time.Now, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a warning for key may be shown now.
func (n *LogNotifier) Allow(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(WarningWindow), 1)
		n.limiters[key] = l
	}
	return l.AllowN(n.now(), 1)
}

func (n *LogNotifier) Warn(key, message string) {
	if !n.Allow(key) {
		return
	}
	n.logger.WithField("key", key).Warn(message)
}

func (n *LogNotifier) Error(message string) {
	n.logger.Error(message)
}

func (n *LogNotifier) Flash(list domain.ListName) {
	n.logger.WithField("list", string(list)).Debug("flash column")
}
