// Package journal implements the write-behind hook for accepted orders and
// executed trades.
//
// The engine hands records over without blocking: they land in a buffered
// channel and a single worker flushes them in batches to the configured
// backend, either an append-only JSONL file or an HTTP collector. A full
// buffer drops the record with a warning. Journal contents are never read
// back; restart recovery is the operator's problem.
package journal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"invoicex/internal/config"
	"invoicex/pkg/types"
)

// maxBatch flushes early when this many records are pending.
const maxBatch = 500

type record struct {
	order *types.Order
	trade *types.Trade
}

// backend persists one batch. flush is called from the worker only.
type backend interface {
	flush(orders []types.Order, trades []types.Trade) error
	close() error
}

// Journal buffers records and flushes them in the background.
type Journal struct {
	logger        *slog.Logger
	backend       backend
	records       chan record
	flushInterval time.Duration

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a journal for the configured backend. Mode "off" is the
// caller's concern; passing it here is an error.
func New(cfg config.JournalConfig, logger *slog.Logger) (*Journal, error) {
	var b backend
	switch cfg.Mode {
	case "file":
		fb, err := newFileBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		b = fb
	case "http":
		b = newHTTPBackend(cfg.URL)
	default:
		return nil, fmt.Errorf("journal mode %q is not supported", cfg.Mode)
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	j := &Journal{
		logger:        logger.With("component", "journal"),
		backend:       b,
		records:       make(chan record, buffer),
		flushInterval: interval,
		quit:          make(chan struct{}),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run()
	}()
	j.logger.Info("journal started", "mode", cfg.Mode)
	return j, nil
}

// RecordOrder enqueues an accepted order. Never blocks.
func (j *Journal) RecordOrder(o types.Order) {
	select {
	case j.records <- record{order: &o}:
	default:
		j.logger.Warn("journal buffer full, dropping order", "id", o.ID)
	}
}

// RecordTrade enqueues an executed trade. Never blocks.
func (j *Journal) RecordTrade(t types.Trade) {
	select {
	case j.records <- record{trade: &t}:
	default:
		j.logger.Warn("journal buffer full, dropping trade", "id", t.ID)
	}
}

// Close drains buffered records, flushes them and closes the backend.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		close(j.quit)
	})
	j.wg.Wait()
	return j.backend.close()
}

func (j *Journal) run() {
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	var orders []types.Order
	var trades []types.Trade

	add := func(rec record) {
		if rec.order != nil {
			orders = append(orders, *rec.order)
		}
		if rec.trade != nil {
			trades = append(trades, *rec.trade)
		}
	}
	flush := func() {
		if len(orders) == 0 && len(trades) == 0 {
			return
		}
		if err := j.backend.flush(orders, trades); err != nil {
			j.logger.Error("journal flush failed", "orders", len(orders), "trades", len(trades), "error", err)
		}
		orders = nil
		trades = nil
	}

	for {
		select {
		case rec := <-j.records:
			add(rec)
			if len(orders)+len(trades) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.quit:
			for {
				select {
				case rec := <-j.records:
					add(rec)
				default:
					flush()
					return
				}
			}
		}
	}
}
