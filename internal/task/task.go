// Package task tracks named pipeline runs and the watermark that gates
// incremental work between them.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pincrawl/pincrawl/internal/store"
	"github.com/pincrawl/pincrawl/pkg/models"
)

// ErrRunInProgress is returned by StartRun when the latest run for the name
// is still IN_PROGRESS. No new row is created in that case.
var ErrRunInProgress = errors.New("task run already in progress")

// Manager enforces single-flight execution per task name and exposes the
// watermark, the start timestamp of the last successful run.
type Manager struct {
	store  store.Store
	logger *slog.Logger
}

func NewManager(st store.Store, logger *slog.Logger) *Manager {
	return &Manager{store: st, logger: logger}
}

// StartRun records the beginning of a run. It refuses when the most recent
// run of the same name has not finished; the caller sees ErrRunInProgress
// and nothing is written.
func (m *Manager) StartRun(ctx context.Context, name string) (*models.Task, error) {
	latest, err := m.store.LatestTaskByName(ctx, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking latest run: %w", err)
	}
	if latest != nil && latest.InProgress() {
		return nil, fmt.Errorf("%w: %s started at %s", ErrRunInProgress, name, latest.CreatedAt.Format(time.RFC3339))
	}

	run := &models.Task{Name: name, Status: models.TaskStatusInProgress}
	if err := m.store.CreateTask(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run start: %w", err)
	}
	m.logger.Info("task run started", "task", name, "id", run.ID)
	return run, nil
}

// FinishRun closes a run as SUCCESS or FAIL. A run already closed by an
// operator unlock is left untouched.
func (m *Manager) FinishRun(ctx context.Context, run *models.Task, success bool) error {
	status := models.TaskStatusFail
	if success {
		status = models.TaskStatusSuccess
	}
	err := m.store.UpdateTaskStatus(ctx, run.ID, status)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("task run already closed", "task", run.Name, "id", run.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	m.logger.Info("task run finished", "task", run.Name, "id", run.ID, "status", status)
	return nil
}

// LatestRun returns the most recent run for name, or store.ErrNotFound.
func (m *Manager) LatestRun(ctx context.Context, name string) (*models.Task, error) {
	return m.store.LatestTaskByName(ctx, name)
}

// Watermark returns the start timestamp of the last SUCCESS run for name.
// A zero time means no run ever succeeded. Using start (not finish) time
// keeps delivery at-least-once: records landing while a run executes fall
// on both sides of adjacent watermarks rather than in neither.
func (m *Manager) Watermark(ctx context.Context, name string) (time.Time, error) {
	last, err := m.store.LatestSuccessfulTask(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading watermark: %w", err)
	}
	return last.CreatedAt, nil
}

// RecordsChangedSince returns the confirmed ads identified at or after the
// watermark for name. With no successful run yet, every confirmed ad is
// returned.
func (m *Manager) RecordsChangedSince(ctx context.Context, name string) ([]*models.Ad, error) {
	watermark, err := m.Watermark(ctx, name)
	if err != nil {
		return nil, err
	}
	ads, err := m.store.ListConfirmedSince(ctx, watermark)
	if err != nil {
		return nil, fmt.Errorf("listing changed records: %w", err)
	}
	return ads, nil
}

// Unlock force-closes an in-progress run as FAIL so the next scheduled run
// can proceed. Meant for operator recovery after a crashed run.
func (m *Manager) Unlock(ctx context.Context, name string) error {
	latest, err := m.store.LatestTaskByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no runs recorded for %s", name)
	}
	if err != nil {
		return err
	}
	if !latest.InProgress() {
		return fmt.Errorf("latest %s run is %s, nothing to unlock", name, latest.Status)
	}
	if err := m.store.UpdateTaskStatus(ctx, latest.ID, models.TaskStatusFail); err != nil {
		return fmt.Errorf("unlocking run: %w", err)
	}
	m.logger.Info("task run unlocked", "task", name, "id", latest.ID)
	return nil
}

// Cleanup drops old runs of name, keeping the most recent keep rows.
func (m *Manager) Cleanup(ctx context.Context, name string, keep int) error {
	deleted, err := m.store.CleanupTasks(ctx, name, keep)
	if err != nil {
		return fmt.Errorf("cleaning up runs: %w", err)
	}
	if deleted > 0 {
		m.logger.Info("old task runs removed", "task", name, "deleted", deleted)
	}
	return nil
}
