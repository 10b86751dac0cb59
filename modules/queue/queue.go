// Package queue implements the durable work queues backing the discovery
// and profile stages. Entries live in Postgres; workers claim them with
// SKIP LOCKED so any number of processes can drain the same table without
// coordination, and a visibility timeout returns work whose owner died.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// The queue is table-parameterized rather than payload-parameterized:
// both stages carry only a company key.
const (
	TableDiscovery = "queue_discovery"
	TableProfile   = "queue_profile"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Outcome of a single enqueue. An entry already queued or processing for
// the same company key is not enqueued again.
type Outcome string

const (
	OutcomeEnqueued      Outcome = "enqueued"
	OutcomeAlreadyActive Outcome = "already_active"
)

type BatchResult struct {
	Enqueued []string `json:"enqueued"`
	Skipped  []string `json:"skipped"`
}

// Entry is a claimed unit of work. Attempts counts finished tries, so a
// freshly claimed entry still carries the pre-increment value.
type Entry struct {
	ID          int64  `db:"id"`
	CompanyKey  string `db:"cnpj_basico"`
	Attempts    int    `db:"attempts"`
	MaxAttempts int    `db:"max_attempts"`
}

type Metrics struct {
	Queued          int64   `db:"queued" json:"queued"`
	Processing      int64   `db:"processing" json:"processing"`
	Done            int64   `db:"done" json:"done"`
	Failed          int64   `db:"failed" json:"failed"`
	OldestQueuedAge float64 `db:"oldest_queued_age" json:"oldest_queued_age_seconds"`
}

type Queue struct {
	db    *sqlx.DB
	table string
	cfg   Config

	enqueueSQL      string
	enqueueBatchSQL string
	reclaimSQL      string
	claimSQL        string
	completeSQL     string
	failSQL         string
	metricsSQL      string
}

func New(db *sqlx.DB, table string, cfg Config) (*Queue, error) {
	if table != TableDiscovery && table != TableProfile {
		return nil, errors.Errorf("unknown queue table %q", table)
	}
	q := &Queue{db: db, table: table, cfg: cfg}
	q.buildSQL()
	return q, nil
}

func (q *Queue) Table() string { return q.table }

// Table names cannot be bind parameters, so the statements are rendered
// once at construction from the vetted table name.
func (q *Queue) buildSQL() {
	q.enqueueSQL = fmt.Sprintf(`
INSERT INTO %s (cnpj_basico, max_attempts)
VALUES ($1, $2)
ON CONFLICT (cnpj_basico) WHERE status IN ('queued', 'processing') DO NOTHING`, q.table)

	q.enqueueBatchSQL = fmt.Sprintf(`
INSERT INTO %s (cnpj_basico, max_attempts)
SELECT DISTINCT k, $2 FROM unnest($1::text[]) AS k
ON CONFLICT (cnpj_basico) WHERE status IN ('queued', 'processing') DO NOTHING
RETURNING cnpj_basico`, q.table)

	q.reclaimSQL = fmt.Sprintf(`
UPDATE %s
SET status = 'queued', locked_at = NULL, locked_by = NULL, updated_at = now()
WHERE status = 'processing' AND locked_at < now() - make_interval(secs => $1)`, q.table)

	q.claimSQL = fmt.Sprintf(`
WITH picked AS (
	SELECT id
	FROM %s
	WHERE status = 'queued' AND available_at <= now()
	ORDER BY available_at, id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE %s q
SET status = 'processing', locked_at = now(), locked_by = $1, updated_at = now()
FROM picked
WHERE q.id = picked.id
RETURNING q.id, q.cnpj_basico, q.attempts, q.max_attempts`, q.table, q.table)

	q.completeSQL = fmt.Sprintf(`
UPDATE %s
SET status = 'done', last_error = NULL, locked_at = NULL, locked_by = NULL, updated_at = now()
WHERE id = $1 AND locked_by = $2 AND status = 'processing'`, q.table)

	q.failSQL = fmt.Sprintf(`
UPDATE %s
SET attempts     = attempts + 1,
    status       = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
    available_at = CASE WHEN attempts + 1 >= max_attempts THEN available_at ELSE now() + make_interval(secs => $3) END,
    last_error   = $4,
    locked_at    = NULL,
    locked_by    = NULL,
    updated_at   = now()
WHERE id = $1 AND locked_by = $2 AND status = 'processing'`, q.table)

	q.metricsSQL = fmt.Sprintf(`
SELECT
	COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0)     AS queued,
	COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0) AS processing,
	COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0)       AS done,
	COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)     AS failed,
	COALESCE(EXTRACT(EPOCH FROM (now() - MIN(CASE WHEN status = 'queued' THEN available_at END))), 0) AS oldest_queued_age
FROM %s`, q.table)
}

func (q *Queue) Enqueue(ctx context.Context, companyKey string) (Outcome, error) {
	res, err := q.db.ExecContext(ctx, q.enqueueSQL, companyKey, q.cfg.MaxAttempts)
	if err != nil {
		return "", errors.Wrap(err, "enqueueing")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", errors.Wrap(err, "enqueueing")
	}
	if n == 0 {
		return OutcomeAlreadyActive, nil
	}
	metricEnqueued.WithLabelValues(q.table).Inc()
	return OutcomeEnqueued, nil
}

// EnqueueBatch enqueues every key without an active entry and reports
// which keys went in and which were skipped as already active.
func (q *Queue) EnqueueBatch(ctx context.Context, companyKeys []string) (BatchResult, error) {
	if len(companyKeys) == 0 {
		return BatchResult{}, nil
	}
	var inserted []string
	if err := q.db.SelectContext(ctx, &inserted, q.enqueueBatchSQL, pq.Array(companyKeys), q.cfg.MaxAttempts); err != nil {
		return BatchResult{}, errors.Wrap(err, "enqueueing batch")
	}

	enqueued := make(map[string]struct{}, len(inserted))
	for _, k := range inserted {
		enqueued[k] = struct{}{}
	}
	res := BatchResult{Enqueued: inserted}
	seen := make(map[string]struct{}, len(companyKeys))
	for _, k := range companyKeys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := enqueued[k]; !ok {
			res.Skipped = append(res.Skipped, k)
		}
	}
	metricEnqueued.WithLabelValues(q.table).Add(float64(len(inserted)))
	return res, nil
}

// Claim atomically moves up to limit due entries to processing, owned by
// owner. Entries stuck in processing past the visibility timeout are
// returned to queued first, so a crashed worker's work is claimable.
func (q *Queue) Claim(ctx context.Context, owner string, limit int) ([]Entry, error) {
	if _, err := q.db.ExecContext(ctx, q.reclaimSQL, q.cfg.VisibilityTimeout.Seconds()); err != nil {
		return nil, errors.Wrap(err, "reclaiming expired entries")
	}

	var entries []Entry
	if err := q.db.SelectContext(ctx, &entries, q.claimSQL, owner, limit); err != nil {
		return nil, errors.Wrap(err, "claiming entries")
	}
	metricClaimed.WithLabelValues(q.table).Add(float64(len(entries)))
	return entries, nil
}

// Complete acks a claimed entry. Returns false when the entry was
// reclaimed from this owner in the meantime; the duplicate work already
// happened, so the caller only loses the ack.
func (q *Queue) Complete(ctx context.Context, id int64, owner string) (bool, error) {
	res, err := q.db.ExecContext(ctx, q.completeSQL, id, owner)
	if err != nil {
		return false, errors.Wrap(err, "completing entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "completing entry")
	}
	if n == 0 {
		metricLostAcks.WithLabelValues(q.table).Inc()
		return false, nil
	}
	metricFinished.WithLabelValues(q.table, StatusDone).Inc()
	return true, nil
}

// FailOrRetry records a failed attempt. The entry goes back to queued
// after an exponential delay, or to failed once attempts run out.
func (q *Queue) FailOrRetry(ctx context.Context, e Entry, owner string, cause error) (bool, error) {
	delay := q.retryDelay(e.Attempts + 1)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := q.db.ExecContext(ctx, q.failSQL, e.ID, owner, delay.Seconds(), msg)
	if err != nil {
		return false, errors.Wrap(err, "failing entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failing entry")
	}
	if n == 0 {
		metricLostAcks.WithLabelValues(q.table).Inc()
		return false, nil
	}
	if e.Attempts+1 >= e.MaxAttempts {
		metricFinished.WithLabelValues(q.table, StatusFailed).Inc()
	}
	return true, nil
}

func (q *Queue) Metrics(ctx context.Context) (Metrics, error) {
	var m Metrics
	if err := q.db.GetContext(ctx, &m, q.metricsSQL); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Metrics{}, errors.Wrap(err, "loading queue metrics")
	}
	return m, nil
}

// retryDelay doubles from the base per finished attempt, jittered by
// ±10% so retries of a burst of failures spread out, and capped.
func (q *Queue) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.cfg.RetryBase << uint(attempt-1)
	if d > q.cfg.RetryCap || d <= 0 {
		d = q.cfg.RetryCap
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	d = time.Duration(float64(d) * jitter)
	if d > q.cfg.RetryCap {
		d = q.cfg.RetryCap
	}
	return d
}
