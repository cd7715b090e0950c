package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyConn is the part of *pgx.Conn the listener uses.
type notifyConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// PGListener receives trigger notifications over Postgres LISTEN/NOTIFY.
// Notifications are delivered on commit only. Anything sent while the
// listener was disconnected is recovered by the OnConnect hook.
type PGListener struct {
	connect    func(ctx context.Context) (notifyConn, error)
	channel    string
	logger     *slog.Logger
	onConnect  func(ctx context.Context) error
	minBackoff time.Duration
	maxBackoff time.Duration
}

// ListenerOption configures a PGListener.
type ListenerOption func(*PGListener)

// OnConnect runs fn after every successful LISTEN, before notifications are
// consumed. Use it to reload state that may have been missed.
func OnConnect(fn func(ctx context.Context) error) ListenerOption {
	return func(l *PGListener) { l.onConnect = fn }
}

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(initial, limit time.Duration) ListenerOption {
	return func(l *PGListener) {
		l.minBackoff = initial
		l.maxBackoff = limit
	}
}

// NewPGListener listens on a connection taken out of pool for good.
func NewPGListener(pool *pgxpool.Pool, channel string, logger *slog.Logger, opts ...ListenerOption) *PGListener {
	connect := func(ctx context.Context) (notifyConn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		// A LISTENing connection must not go back to the pool.
		return c.Hijack(), nil
	}
	return newPGListener(connect, channel, logger, opts...)
}

func newPGListener(connect func(ctx context.Context) (notifyConn, error), channel string, logger *slog.Logger, opts ...ListenerOption) *PGListener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &PGListener{
		connect:    connect,
		channel:    channel,
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run listens until ctx is done, reconnecting with backoff. Handler errors
// are logged and the event is skipped.
func (l *PGListener) Run(ctx context.Context, h Handler) error {
	backoff := l.minBackoff
	for {
		connected, err := l.listen(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = l.minBackoff
		}
		l.logger.WarnContext(ctx, "kitchen feed listener disconnected",
			"channel", l.channel, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

func (l *PGListener) listen(ctx context.Context, h Handler) (bool, error) {
	conn, err := l.connect(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	if l.onConnect != nil {
		if err := l.onConnect(ctx); err != nil {
			return false, fmt.Errorf("resync: %w", err)
		}
	}
	l.logger.InfoContext(ctx, "kitchen feed listening", "channel", l.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		if err := h(ctx, []byte(n.Payload)); err != nil {
			level := slog.LevelError
			if errors.Is(err, ErrMalformed) {
				level = slog.LevelWarn
			}
			l.logger.Log(ctx, level, "kitchen feed event dropped", "channel", n.Channel, "error", err)
		}
	}
}
