package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/wskeeper/internal/journal"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS connection_journal (
	id          UUID PRIMARY KEY,
	session     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	attempt     INTEGER NOT NULL DEFAULT 0,
	payload     BYTEA,
	error       TEXT,
	recorded_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS connection_journal_session_idx
	ON connection_journal (session, recorded_at);
`

const insertSQL = `
	INSERT INTO connection_journal (id, session, kind, attempt, payload, error, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING
`

// JournalWriter consumes journal entries and archives them to PostgreSQL.
type JournalWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *journal.Queue[journal.Entry]
	db    DB

	// Batching
	batch       []journalRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// journalRow is one connection_journal row.
type journalRow struct {
	ID         pgtype.UUID
	Session    string
	Kind       string
	Attempt    int32
	Payload    []byte
	Error      pgtype.Text
	RecordedAt int64 // unix microseconds
}

// NewJournalWriter creates a new JournalWriter.
func NewJournalWriter(
	cfg WriterConfig,
	input *journal.Queue[journal.Entry],
	db DB,
	logger *slog.Logger,
) *JournalWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &JournalWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger.With("writer", "journal"),
		batch:  make([]journalRow, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the connection_journal table if it is missing.
func (w *JournalWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create connection_journal: %w", err)
	}
	return nil
}

// Start begins consuming entries and writing to the database.
func (w *JournalWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down and flushes whatever is still queued.
func (w *JournalWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	for _, e := range w.input.DrainTo(0) {
		w.add(e)
	}
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *JournalWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves entries from the queue into the pending batch.
func (w *JournalWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		if w.ctx.Err() != nil {
			return
		}

		entries := w.input.DrainTo(w.cfg.BatchSize)
		if len(entries) == 0 {
			// Queue empty, wait a bit before trying again
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		for _, e := range entries {
			if w.add(e) {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *JournalWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends e to the batch and reports whether the batch is full.
func (w *JournalWriter) add(e journal.Entry) bool {
	row := w.transform(e)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts an Entry to a journalRow.
func (w *JournalWriter) transform(e journal.Entry) journalRow {
	row := journalRow{
		ID:         pgtype.UUID{Bytes: [16]byte(e.ID), Valid: true},
		Session:    e.Session,
		Kind:       string(e.Kind),
		Attempt:    int32(e.Attempt),
		RecordedAt: e.At.UnixMicro(),
	}
	if len(e.Payload) > 0 {
		row.Payload = e.Payload
	}
	if e.Error != "" {
		row.Error = pgtype.Text{String: e.Error, Valid: true}
	}
	return row
}

// flush writes the current batch to the database.
func (w *JournalWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]journalRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal entries",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *JournalWriter) batchInsert(ctx context.Context, rows []journalRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.ID, r.Session, r.Kind, r.Attempt, r.Payload, r.Error, r.RecordedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
