package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Listener waits for NOTIFY payloads on one channel.
type Listener interface {
	// Wait blocks until the next notification and returns its payload.
	Wait(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// ListenFunc opens a Listener on channel.
type ListenFunc func(ctx context.Context, channel string) (Listener, error)

// PoolListener returns a ListenFunc that holds one pooled connection per
// listener for as long as it is open.
func PoolListener(pool *pgxpool.Pool) ListenFunc {
	return func(ctx context.Context, channel string) (Listener, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire listen connection: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		return &poolListener{conn: conn}, nil
	}
}

type poolListener struct {
	conn *pgxpool.Conn
}

func (l *poolListener) Wait(ctx context.Context) (string, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

// Close unlistens before handing the connection back; a connection whose
// wait was cancelled mid-read is destroyed instead of reused.
func (l *poolListener) Close(ctx context.Context) error {
	if _, err := l.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		_ = l.conn.Conn().Close(ctx)
		l.conn.Release()
		return err
	}
	l.conn.Release()
	return nil
}
