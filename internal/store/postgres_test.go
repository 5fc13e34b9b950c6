package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pincrawl/pincrawl/pkg/models"
)

func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pincrawl_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60*time.Second)))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminating container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(connStr, "../../migrations"))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPostgresStore(pool)
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestUpsertAdByURL(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	ad, err := st.UpsertAd(ctx, &models.Ad{URL: "https://www.leboncoin.fr/ad/flipper/123"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ad.ID)
	assert.False(t, ad.CreatedAt.IsZero())

	// Upserting the same URL updates in place; id and created_at survive.
	now := time.Now().UTC().Truncate(time.Microsecond)
	content := "# Flipper"
	again, err := st.UpsertAd(ctx, &models.Ad{
		URL:       ad.URL,
		ScrapedAt: &now,
		Content:   &content,
		Retries:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, ad.ID, again.ID)
	assert.Equal(t, ad.CreatedAt.UTC(), again.CreatedAt.UTC())
	assert.True(t, again.Scraped())
	assert.Equal(t, 1, again.Retries)

	count, err := st.CountAds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := st.AdExists(ctx, ad.URL)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = st.AdExists(ctx, "https://www.leboncoin.fr/ad/flipper/999")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = st.GetAdByURL(ctx, "https://www.leboncoin.fr/ad/flipper/999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAdsFilters(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	content := "content"
	seed := []*models.Ad{
		{URL: "https://x/pending/1"},
		{URL: "https://x/scraped/2", ScrapedAt: &now, Content: &content},
		{URL: "https://x/ignored/3", Ignored: true},
		{URL: "https://x/identified/4", ScrapedAt: &now, Content: &content, IdentifiedAt: &now},
	}
	for _, ad := range seed {
		_, err := st.UpsertAd(ctx, ad)
		require.NoError(t, err)
	}

	f := func(b bool) *bool { return &b }

	pending, err := st.ListAds(ctx, AdFilter{Scraped: f(false), Ignored: f(false)})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "https://x/pending/1", pending[0].URL)

	scraped, err := st.ListAds(ctx, AdFilter{Scraped: f(true)})
	require.NoError(t, err)
	assert.Len(t, scraped, 2)

	unidentified, err := st.ListAds(ctx, AdFilter{Identified: f(false), Ignored: f(false)})
	require.NoError(t, err)
	assert.Len(t, unidentified, 2)

	withContent, err := st.ListAds(ctx, AdFilter{HasContent: f(true)})
	require.NoError(t, err)
	assert.Len(t, withContent, 2)

	limited, err := st.ListAds(ctx, AdFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFindPreviousAd(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	seller := "https://www.leboncoin.fr/profil/abc"
	otherSeller := "https://www.leboncoin.fr/profil/xyz"
	opdb := "G42PZ-MD7Z1"
	otherOpdb := "G50PZ-AF0M2"

	base := time.Now().UTC().Add(-72 * time.Hour)
	mk := func(url string, sellerURL, opdbID *string, offset time.Duration) *models.Ad {
		ad, err := st.UpsertAd(ctx, &models.Ad{
			URL:       url,
			CreatedAt: base.Add(offset),
			SellerURL: sellerURL,
			OpdbID:    opdbID,
		})
		require.NoError(t, err)
		return ad
	}

	oldest := mk("https://x/1", &seller, &opdb, 0)
	middle := mk("https://x/2", &seller, &opdb, time.Hour)
	mk("https://x/3", &otherSeller, &opdb, 2*time.Hour) // different seller
	mk("https://x/4", &seller, &otherOpdb, 3*time.Hour) // different product
	newest := mk("https://x/5", &seller, &opdb, 4*time.Hour)

	prev, err := st.FindPreviousAd(ctx, newest)
	require.NoError(t, err)
	assert.Equal(t, middle.ID, prev.ID)

	prev, err = st.FindPreviousAd(ctx, middle)
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, prev.ID)

	_, err = st.FindPreviousAd(ctx, oldest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConfirmedSince(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	opdb := "G42PZ-MD7Z1"
	watermark := time.Now().UTC().Add(-time.Hour)
	before := watermark.Add(-time.Minute)
	after := watermark.Add(time.Minute)

	seed := []*models.Ad{
		{URL: "https://x/1", OpdbID: &opdb, IdentifiedAt: &before},
		{URL: "https://x/2", OpdbID: &opdb, IdentifiedAt: &after},
		{URL: "https://x/3", IdentifiedAt: &after},                              // unconfirmed
		{URL: "https://x/4", OpdbID: &opdb, IdentifiedAt: &after, Ignored: true}, // ignored
	}
	for _, ad := range seed {
		_, err := st.UpsertAd(ctx, ad)
		require.NoError(t, err)
	}

	changed, err := st.ListConfirmedSince(ctx, watermark)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "https://x/2", changed[0].URL)

	// Zero watermark returns every confirmed, non-ignored ad.
	all, err := st.ListConfirmedSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProducts(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertProduct(ctx, &models.Product{
		OpdbID:       "G42PZ-MD7Z1",
		IpdbID:       intp(4032),
		Name:         "Medieval Madness",
		Manufacturer: strp("Williams"),
		Year:         strp("1997"),
	}))
	require.NoError(t, st.UpsertProduct(ctx, &models.Product{
		OpdbID: "G50PZ-AF0M2",
		Name:   "Attack from Mars",
	}))

	// Upsert by opdb id is idempotent.
	require.NoError(t, st.UpsertProduct(ctx, &models.Product{
		OpdbID:       "G42PZ-MD7Z1",
		Name:         "Medieval Madness",
		Manufacturer: strp("Williams"),
		Year:         strp("1997"),
	}))
	count, err := st.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	p, err := st.GetProduct(ctx, "G42PZ-MD7Z1")
	require.NoError(t, err)
	assert.Equal(t, "Medieval Madness", p.Name)
	_, err = st.GetProduct(ctx, "MISSING")
	assert.ErrorIs(t, err, ErrNotFound)

	// Full-text query ranks matching names.
	found, total, err := st.ListProducts(ctx, ProductFilter{Query: "madness", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, "G42PZ-MD7Z1", found[0].OpdbID)

	// Embeddings start empty and land via SetProductEmbedding.
	withVec, err := st.ListProductsWithEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, withVec)

	require.NoError(t, st.SetProductEmbedding(ctx, "G42PZ-MD7Z1", []byte{1, 0, 0, 0}))
	withVec, err = st.ListProductsWithEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, withVec, 1)
	assert.Equal(t, []byte{1, 0, 0, 0}, withVec[0].Embedding)

	assert.ErrorIs(t, st.SetProductEmbedding(ctx, "MISSING", []byte{1}), ErrNotFound)
}

func TestTasksLifecycle(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	tk := &models.Task{Name: "scrape", Status: models.TaskStatusInProgress}
	require.NoError(t, st.CreateTask(ctx, tk))
	assert.NotEqual(t, uuid.Nil, tk.ID)

	latest, err := st.LatestTaskByName(ctx, "scrape")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, latest.ID)
	assert.True(t, latest.InProgress())

	_, err = st.LatestTaskByName(ctx, "watching-send")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.UpdateTaskStatus(ctx, tk.ID, models.TaskStatusSuccess))

	// The guard refuses a second transition on a closed run.
	assert.ErrorIs(t, st.UpdateTaskStatus(ctx, tk.ID, models.TaskStatusFail), ErrNotFound)

	success, err := st.LatestSuccessfulTask(ctx, "scrape")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, success.ID)

	// A later failed run does not disturb the successful watermark.
	fail := &models.Task{Name: "scrape", Status: models.TaskStatusInProgress, CreatedAt: time.Now().UTC().Add(time.Minute)}
	require.NoError(t, st.CreateTask(ctx, fail))
	require.NoError(t, st.UpdateTaskStatus(ctx, fail.ID, models.TaskStatusFail))

	success, err = st.LatestSuccessfulTask(ctx, "scrape")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, success.ID)

	runs, err := st.ListTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, fail.ID, runs[0].ID)
}

func TestCleanupTasks(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-10 * time.Hour)
	for i := 0; i < 6; i++ {
		tk := &models.Task{
			Name:      "scrape",
			Status:    models.TaskStatusSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, st.CreateTask(ctx, tk))
	}
	other := &models.Task{Name: "watching-send", Status: models.TaskStatusSuccess, CreatedAt: base}
	require.NoError(t, st.CreateTask(ctx, other))

	deleted, err := st.CleanupTasks(ctx, "scrape", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	// Other task names are untouched, and re-running is a no-op.
	runs, err := st.ListTasks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	deleted, err = st.CleanupTasks(ctx, "scrape", 2)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// Fewer runs than keep: nothing deleted.
	deleted, err = st.CleanupTasks(ctx, "watching-send", 5)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestWatching(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	seedWatch := func(account uuid.UUID, opdbID string) {
		_, err := st.pool.Exec(ctx,
			`INSERT INTO watching (id, account_id, opdb_id, created_at) VALUES ($1, $2, $3, now())`,
			uuid.New(), account, opdbID)
		require.NoError(t, err)
	}
	seedWatch(alice, "OPDB-MM")
	seedWatch(alice, "OPDB-AFM")
	seedWatch(bob, "OPDB-MM")

	all, err := st.ListWatching(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	matching, err := st.ListWatchingForProducts(ctx, []string{"OPDB-MM"})
	require.NoError(t, err)
	assert.Len(t, matching, 2)

	none, err := st.ListWatchingForProducts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPreviousAdForeignKey(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	first, err := st.UpsertAd(ctx, &models.Ad{URL: "https://x/1"})
	require.NoError(t, err)

	second, err := st.UpsertAd(ctx, &models.Ad{URL: "https://x/2", PreviousID: &first.ID})
	require.NoError(t, err)
	require.NotNil(t, second.PreviousID)
	assert.Equal(t, first.ID, *second.PreviousID)

	// Linking to a nonexistent ad violates the chain's foreign key.
	ghost := uuid.New()
	_, err = st.UpsertAd(ctx, &models.Ad{URL: "https://x/3", PreviousID: &ghost})
	require.Error(t, err)
}
