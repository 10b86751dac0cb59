// Package worker runs the queue-driven stages. Each worker is a dskit
// service polling one queue table; any number of workers across any
// number of processes can share a table because claims go through
// SKIP LOCKED.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"

	"github.com/buscafornecedor/perfilador/modules/queue"
	"github.com/buscafornecedor/perfilador/pkg/util/log"
)

// Handler processes one claimed entry. A nil return acks the entry; an
// error sends it back through the retry schedule.
type Handler func(ctx context.Context, e queue.Entry) error

type jobQueue interface {
	Table() string
	Claim(ctx context.Context, owner string, limit int) ([]queue.Entry, error)
	Complete(ctx context.Context, id int64, owner string) (bool, error)
	FailOrRetry(ctx context.Context, e queue.Entry, owner string, cause error) (bool, error)
}

type Worker struct {
	services.Service

	cfg    Config
	queue  jobQueue
	handle Handler
	owner  string
}

// Owner builds a claim owner id unique to this worker goroutine, so a
// reclaimed entry can tell its original owner's late ack apart.
func Owner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func New(cfg Config, q jobQueue, handle Handler) *Worker {
	w := &Worker{
		cfg:    cfg,
		queue:  q,
		handle: handle,
		owner:  Owner(),
	}
	w.Service = services.NewBasicService(nil, w.running, nil)
	return w
}

func (w *Worker) running(ctx context.Context) error {
	level.Info(log.Logger).Log("msg", "worker started", "queue", w.queue.Table(), "owner", w.owner)
	bo := backoff.New(ctx, w.cfg.ClaimRetry)

	for ctx.Err() == nil {
		entries, err := w.queue.Claim(ctx, w.owner, w.cfg.ClaimBatch)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			level.Warn(log.Logger).Log("msg", "claim failed", "queue", w.queue.Table(), "err", err)
			bo.Wait()
			continue
		}
		bo.Reset()

		if len(entries) == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.EmptySleep):
			}
			continue
		}

		for _, e := range entries {
			w.process(ctx, e)
		}
	}
	return nil
}

func (w *Worker) process(ctx context.Context, e queue.Entry) {
	// The handler runs detached from service stop: a shutdown mid-entry
	// lets the current entry finish and ack, within ShutdownGrace. Only
	// once the grace elapses does the claim fall back to the visibility
	// timeout.
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		select {
		case <-hctx.Done():
		case <-time.After(w.cfg.ShutdownGrace):
			cancel()
		}
	})
	defer stop()

	start := time.Now()
	err := w.handle(hctx, e)
	metricHandled.WithLabelValues(w.queue.Table(), outcomeLabel(err)).Inc()
	metricHandleDuration.WithLabelValues(w.queue.Table()).Observe(time.Since(start).Seconds())

	// The grace ran out mid-entry: don't burn an attempt on a cancelled
	// context.
	if err != nil && hctx.Err() != nil {
		return
	}

	if err != nil {
		level.Warn(log.Logger).Log("msg", "entry failed", "queue", w.queue.Table(), "company", e.CompanyKey, "attempt", e.Attempts+1, "err", err)
		if _, ferr := w.queue.FailOrRetry(context.WithoutCancel(ctx), e, w.owner, err); ferr != nil {
			level.Error(log.Logger).Log("msg", "recording failure failed", "queue", w.queue.Table(), "id", e.ID, "err", ferr)
		}
		return
	}

	acked, err := w.queue.Complete(context.WithoutCancel(ctx), e.ID, w.owner)
	if err != nil {
		level.Error(log.Logger).Log("msg", "ack failed", "queue", w.queue.Table(), "id", e.ID, "err", err)
		return
	}
	if !acked {
		level.Warn(log.Logger).Log("msg", "entry was reclaimed before ack", "queue", w.queue.Table(), "id", e.ID)
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
