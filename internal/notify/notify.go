// Package notify fans confirmed ads out to watching accounts, gated by the
// watching-send watermark.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pincrawl/pincrawl/internal/cache"
	"github.com/pincrawl/pincrawl/internal/store"
	"github.com/pincrawl/pincrawl/internal/task"
	"github.com/pincrawl/pincrawl/pkg/models"
)

// TaskName is the run name gating notification watermarks.
const TaskName = "watching-send"

// Notifier delivers a batch of ads to one account.
type Notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, ads []*models.Ad) error
}

// Result summarizes one dispatch run.
type Result struct {
	Changed  int // confirmed ads past the watermark
	Accounts int // accounts with at least one matching watch
	Notified int // (account, ad) pairs delivered
	Skipped  int // pairs suppressed by the delivery dedup
	Failed   int // accounts whose delivery failed
}

// Dispatcher runs the notification stage: it collects ads confirmed since
// the last successful run, intersects them with watch subscriptions and
// delivers per account. Runs are single-flight; the watermark advances when
// the batch itself completes, so a single failing account is logged and
// skipped rather than forcing the whole batch to be retried.
type Dispatcher struct {
	store    store.Store
	cache    cache.Cache
	tasks    *task.Manager
	notifier Notifier
	dedupTTL time.Duration
	keep     int
	logger   *slog.Logger
}

func NewDispatcher(st store.Store, ca cache.Cache, tasks *task.Manager, notifier Notifier, dedupTTL time.Duration, keep int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		cache:    ca,
		tasks:    tasks,
		notifier: notifier,
		dedupTTL: dedupTTL,
		keep:     keep,
		logger:   logger,
	}
}

// Send executes one dispatch run. It returns task.ErrRunInProgress when a
// previous run is still open.
func (d *Dispatcher) Send(ctx context.Context) (*Result, error) {
	run, err := d.tasks.StartRun(ctx, TaskName)
	if err != nil {
		return nil, err
	}

	result, sendErr := d.send(ctx)

	// Per-account delivery failures are logged inside send; only a
	// batch-level error (listing ads, loading subscriptions) fails the run
	// and holds the watermark back.
	if err := d.tasks.FinishRun(ctx, run, sendErr == nil); err != nil {
		d.logger.Error("closing dispatch run failed", "error", err)
	}
	if err := d.tasks.Cleanup(ctx, TaskName, d.keep); err != nil {
		d.logger.Error("dispatch run cleanup failed", "error", err)
	}

	if sendErr != nil {
		return result, sendErr
	}
	if result.Failed > 0 {
		d.logger.Warn("dispatch finished with failed deliveries", "accounts", result.Failed)
	}
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context) (*Result, error) {
	result := &Result{}

	ads, err := d.tasks.RecordsChangedSince(ctx, TaskName)
	if err != nil {
		return result, err
	}
	result.Changed = len(ads)
	if len(ads) == 0 {
		d.logger.Info("nothing to dispatch")
		return result, nil
	}

	byProduct := make(map[string][]*models.Ad)
	opdbIDs := make([]string, 0, len(ads))
	for _, ad := range ads {
		id := *ad.OpdbID
		if _, ok := byProduct[id]; !ok {
			opdbIDs = append(opdbIDs, id)
		}
		byProduct[id] = append(byProduct[id], ad)
	}

	watching, err := d.store.ListWatchingForProducts(ctx, opdbIDs)
	if err != nil {
		return result, fmt.Errorf("listing watch subscriptions: %w", err)
	}

	perAccount := make(map[uuid.UUID][]*models.Ad)
	for _, w := range watching {
		perAccount[w.AccountID] = append(perAccount[w.AccountID], byProduct[w.OpdbID]...)
	}
	result.Accounts = len(perAccount)

	for accountID, accountAds := range perAccount {
		fresh := make([]*models.Ad, 0, len(accountAds))
		for _, ad := range accountAds {
			first, err := d.cache.MarkNotified(ctx, accountID, ad.ID, d.dedupTTL)
			if err != nil {
				// Dedup is best effort; at-least-once wins over silence.
				d.logger.Warn("delivery dedup unavailable", "account", accountID, "error", err)
				first = true
			}
			if !first {
				result.Skipped++
				continue
			}
			fresh = append(fresh, ad)
		}
		if len(fresh) == 0 {
			continue
		}

		// One failing account never blocks the others.
		if err := d.notifier.Notify(ctx, accountID, fresh); err != nil {
			d.logger.Error("account delivery failed", "account", accountID, "ads", len(fresh), "error", err)
			result.Failed++
			continue
		}
		result.Notified += len(fresh)
		d.logger.Info("account notified", "account", accountID, "ads", len(fresh))
	}

	return result, nil
}

// LatestRun exposes the most recent dispatch run for operator tooling.
func (d *Dispatcher) LatestRun(ctx context.Context) (*models.Task, error) {
	return d.tasks.LatestRun(ctx, TaskName)
}
