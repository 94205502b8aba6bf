package repository

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
)

// Execer is the subset of pgxpool.Pool the repository writes through.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate creates the tables when they are missing.
func Migrate(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("repository: migrate: %w", err)
	}
	return nil
}

type job struct {
	name string
	sql  string
	args []any
}

// writer runs statements one at a time off the caller's goroutine.
type writer struct {
	db     Execer
	queue  chan job
	logger *zap.Logger
}

func newWriter(db Execer, logger *zap.Logger) *writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &writer{db: db, queue: make(chan job, queueSize), logger: logger}
}

func (w *writer) enqueue(j job) bool {
	select {
	case w.queue <- j:
		return true
	default:
		w.logger.Warn("repository queue full, dropping write", zap.String("statement", j.name))
		return false
	}
}

// Run drains the queue until ctx is done.
func (w *writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.queue:
			w.exec(ctx, j)
		}
	}
}

func (w *writer) exec(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.Exec(ctx, j.sql, j.args...); err != nil {
		w.logger.Warn("repository write failed", zap.String("statement", j.name), zap.Error(err))
	}
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
