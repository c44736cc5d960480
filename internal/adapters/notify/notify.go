// Package notify delivers review notices to reviewers' channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/hylla/taskgate/internal/app"
)

// Kind names a notifier implementation.
type Kind string

// Supported notifier kinds.
const (
	KindNone  Kind = "none"
	KindLog   Kind = "log"
	KindKafka Kind = "kafka"
	KindRedis Kind = "redis"
)

// ParseKind parses a notifier kind. Blank means KindLog.
func ParseKind(raw string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case "":
		return KindLog, nil
	case KindNone, KindLog, KindKafka, KindRedis:
		return kind, nil
	default:
		return "", fmt.Errorf("unsupported notify kind %q", raw)
	}
}

// Logger writes each notice as one structured log line.
type Logger struct {
	logger *log.Logger
}

// NewLogger constructs a log-backed notifier. A nil logger uses log.Default().
func NewLogger(logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.Default()
	}
	return &Logger{logger: logger}
}

// NotifyReview logs notice.
func (l *Logger) NotifyReview(_ context.Context, notice app.ReviewNotice) error {
	l.logger.Info(
		"task awaiting review",
		"task_id", notice.TaskID,
		"task_name", notice.TaskName,
		"app", notice.AppAcronym,
		"actor", notice.Actor,
		"recipients", strings.Join(notice.Recipients, ","),
	)
	return nil
}

// Closer is a notifier holding a connection.
type Closer interface {
	app.ReviewNotifier
	Close() error
}

var (
	_ app.ReviewNotifier = (*Logger)(nil)
	_ Closer             = (*Kafka)(nil)
	_ Closer             = (*Redis)(nil)
)

// Options selects and configures a notifier.
type Options struct {
	Kind         Kind
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	RedisChannel string
}

// New builds the notifier named by opts.Kind. The returned close func is never nil.
// KindNone yields a nil notifier, which the service counts as skipped.
func New(opts Options, logger *log.Logger) (app.ReviewNotifier, func() error, error) {
	noop := func() error { return nil }
	kind, err := ParseKind(string(opts.Kind))
	if err != nil {
		return nil, noop, err
	}
	switch kind {
	case KindNone:
		return nil, noop, nil
	case KindLog:
		return NewLogger(logger), noop, nil
	case KindKafka:
		k, err := NewKafka(opts.KafkaBrokers, opts.KafkaTopic)
		if err != nil {
			return nil, noop, err
		}
		return k, k.Close, nil
	case KindRedis:
		if strings.TrimSpace(opts.RedisAddr) == "" {
			return nil, noop, errors.New("redis addr is required")
		}
		r, err := NewRedis(NewRedisClient(opts.RedisAddr), opts.RedisChannel)
		if err != nil {
			return nil, noop, err
		}
		return r, r.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported notify kind %q", kind)
	}
}
