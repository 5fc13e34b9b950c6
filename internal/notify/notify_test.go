package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemock "github.com/pincrawl/pincrawl/internal/cache/mock"
	storemock "github.com/pincrawl/pincrawl/internal/store/mock"
	"github.com/pincrawl/pincrawl/internal/task"
	"github.com/pincrawl/pincrawl/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

type stubNotifier struct {
	failFor map[uuid.UUID]bool
	sent    map[uuid.UUID][]*models.Ad
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{failFor: make(map[uuid.UUID]bool), sent: make(map[uuid.UUID][]*models.Ad)}
}

func (n *stubNotifier) Notify(_ context.Context, accountID uuid.UUID, ads []*models.Ad) error {
	if n.failFor[accountID] {
		return errors.New("delivery refused")
	}
	n.sent[accountID] = append(n.sent[accountID], ads...)
	return nil
}

type fixture struct {
	store    *storemock.Store
	cache    *cachemock.Cache
	notifier *stubNotifier
	d        *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storemock.New()
	ca := cachemock.New()
	n := newStubNotifier()
	tasks := task.NewManager(st, testLogger())
	return &fixture{
		store:    st,
		cache:    ca,
		notifier: n,
		d:        NewDispatcher(st, ca, tasks, n, 72*time.Hour, 300, testLogger()),
	}
}

func (f *fixture) seedConfirmedAd(t *testing.T, url, opdbID string, identifiedAt time.Time) *models.Ad {
	t.Helper()
	ad, err := f.store.UpsertAd(context.Background(), &models.Ad{
		URL:          url,
		OpdbID:       &opdbID,
		IdentifiedAt: &identifiedAt,
	})
	require.NoError(t, err)
	return ad
}

func (f *fixture) seedWatch(accountID uuid.UUID, opdbID string) {
	f.store.AddWatching(&models.Watching{AccountID: accountID, OpdbID: opdbID})
}

func TestSendDeliversToWatchingAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	adMM := f.seedConfirmedAd(t, "https://www.leboncoin.fr/ad/f/1", "OPDB-MM", now)
	f.seedConfirmedAd(t, "https://www.leboncoin.fr/ad/f/2", "OPDB-AFM", now)
	f.seedConfirmedAd(t, "https://www.leboncoin.fr/ad/f/3", "OPDB-TZ", now) // nobody watches

	alice := uuid.New()
	bob := uuid.New()
	f.seedWatch(alice, "OPDB-MM")
	f.seedWatch(alice, "OPDB-AFM")
	f.seedWatch(bob, "OPDB-MM")

	result, err := f.d.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Changed)
	assert.Equal(t, 2, result.Accounts)
	assert.Equal(t, 3, result.Notified)
	assert.Equal(t, 0, result.Failed)

	assert.Len(t, f.notifier.sent[alice], 2)
	assert.Len(t, f.notifier.sent[bob], 1)
	assert.True(t, f.cache.WasNotified(bob, adMM.ID))

	// The run closed SUCCESS and advanced the watermark.
	run, err := f.store.LatestTaskByName(ctx, TaskName)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, run.Status)
}

func TestSendRespectsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := uuid.New()
	f.seedWatch(alice, "OPDB-MM")
	f.seedConfirmedAd(t, "https://www.leboncoin.fr/ad/f/1", "OPDB-MM", time.Now().UTC())

	// First run delivers the ad.
	result, err := f.d.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)

	// Second run: nothing new past the watermark.
	result, err = f.d.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Changed)
	assert.Equal(t, 0, result.Notified)
}

func TestSendSingleFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Simulate a crashed run left open.
	require.NoError(t, f.store.CreateTask(ctx, &models.Task{
		Name:   TaskName,
		Status: models.TaskStatusInProgress,
	}))

	_, err := f.d.Send(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, task.ErrRunInProgress)
	// The refused attempt recorded no run of its own.
	assert.Len(t, f.store.Tasks(), 1)
}

func TestSendAccountFailureIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ad := f.seedConfirmedAd(t, "https://www.leboncoin.fr/ad/f/1", "OPDB-MM", now)

	alice := uuid.New()
	bob := uuid.New()
	f.seedWatch(alice, "OPDB-MM")
	f.seedWatch(bob, "OPDB-MM")
	f.notifier.failFor[alice] = true

	result, err := f.d.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Notified)
	assert.Len(t, f.notifier.sent[bob], 1)
	assert.True(t, f.cache.WasNotified(alice, ad.ID))

	// One failing account does not hold the batch back: the run still
	// closes SUCCESS and the watermark moves past the ad.
	run, err := f.store.LatestTaskByName(ctx, TaskName)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, run.Status)

	// The next run starts past the watermark, so nothing is re-delivered.
	f.notifier.failFor[alice] = false
	result, err = f.d.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Changed)
	assert.Empty(t, f.notifier.sent[alice])
}

type brokenWatchStore struct {
	*storemock.Store
}

func (s *brokenWatchStore) ListWatchingForProducts(context.Context, []string) ([]*models.Watching, error) {
	return nil, errors.New("watching table unavailable")
}

func TestSendBatchErrorFailsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedConfirmedAd(t, "https://www.leboncoin.fr/ad/f/1", "OPDB-MM", time.Now().UTC())
	f.seedWatch(uuid.New(), "OPDB-MM")

	broken := &brokenWatchStore{Store: f.store}
	d := NewDispatcher(broken, f.cache, task.NewManager(broken, testLogger()), f.notifier, 72*time.Hour, 300, testLogger())

	_, err := d.Send(ctx)
	require.Error(t, err)

	// Batch-level errors fail the run and hold the watermark, so the whole
	// batch is retried next time.
	run, err := f.store.LatestTaskByName(ctx, TaskName)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFail, run.Status)
}

func TestSendDedupFailureFallsOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := uuid.New()
	f.seedWatch(alice, "OPDB-MM")
	f.seedConfirmedAd(t, "https://www.leboncoin.fr/ad/f/1", "OPDB-MM", time.Now().UTC())

	// Cache down: delivery proceeds anyway (at-least-once).
	f.cache.Err = errors.New("redis unavailable")

	result, err := f.d.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Notified)
}

func TestSendNothingToDeliver(t *testing.T) {
	f := newFixture(t)

	result, err := f.d.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Changed)

	// Even an empty run closes SUCCESS and advances the watermark.
	run, err := f.store.LatestTaskByName(context.Background(), TaskName)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, run.Status)
}

func TestSendCleansUpOldRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Dispatcher configured to keep just 2 runs.
	f.d.keep = 2
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		tk := &models.Task{Name: TaskName, Status: models.TaskStatusSuccess, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, f.store.CreateTask(ctx, tk))
	}

	_, err := f.d.Send(ctx)
	require.NoError(t, err)
	assert.Len(t, f.store.Tasks(), 2)
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	accountID := uuid.New()
	title := "Flipper Medieval Madness"
	opdb := "OPDB-MM"
	n := NewWebhookNotifier(srv.URL, 5*time.Second)

	err := n.Notify(context.Background(), accountID, []*models.Ad{{
		URL:    "https://www.leboncoin.fr/ad/f/1",
		Title:  &title,
		OpdbID: &opdb,
	}})
	require.NoError(t, err)
	assert.Equal(t, accountID, got.AccountID)
	require.Len(t, got.Ads, 1)
	assert.Equal(t, "https://www.leboncoin.fr/ad/f/1", got.Ads[0].URL)
	require.NotNil(t, got.Ads[0].OpdbID)
	assert.Equal(t, "OPDB-MM", *got.Ads[0].OpdbID)
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	n := NewWebhookNotifier(srv.URL, 5*time.Second)
	err := n.Notify(context.Background(), uuid.New(), []*models.Ad{{URL: "https://x/1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
