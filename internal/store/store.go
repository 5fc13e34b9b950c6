package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pincrawl/pincrawl/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	AdExists(ctx context.Context, url string) (bool, error)
	GetAdByURL(ctx context.Context, url string) (*models.Ad, error)
	ListAds(ctx context.Context, filter AdFilter) ([]*models.Ad, error)
	UpsertAd(ctx context.Context, ad *models.Ad) (*models.Ad, error)
	CountAds(ctx context.Context) (int, error)
	// FindPreviousAd returns the most recent other ad sharing the given
	// ad's seller URL and opdb id with an earlier created_at, or ErrNotFound.
	FindPreviousAd(ctx context.Context, ad *models.Ad) (*models.Ad, error)
	// ListConfirmedSince returns ads confirmed against the catalog with
	// identified_at >= since. A zero since returns all confirmed ads.
	ListConfirmedSince(ctx context.Context, since time.Time) ([]*models.Ad, error)

	UpsertProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, opdbID string) (*models.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, int, error)
	ListProductsWithEmbeddings(ctx context.Context) ([]*models.Product, error)
	SetProductEmbedding(ctx context.Context, opdbID string, embedding []byte) error
	CountProducts(ctx context.Context) (int, error)

	ListWatching(ctx context.Context) ([]*models.Watching, error)
	ListWatchingForProducts(ctx context.Context, opdbIDs []string) ([]*models.Watching, error)

	ListTasks(ctx context.Context, limit int) ([]*models.Task, error)
	LatestTaskByName(ctx context.Context, name string) (*models.Task, error)
	// LatestSuccessfulTask returns the most recent run of name that finished
	// SUCCESS, or ErrNotFound.
	LatestSuccessfulTask(ctx context.Context, name string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status string) error
	// CleanupTasks deletes runs of name older than the keep-th most recent
	// run's timestamp. A no-op when fewer than keep runs exist.
	CleanupTasks(ctx context.Context, name string, keep int) (int64, error)
}

// AdFilter selects ads by workflow state. Nil fields are not filtered on.
type AdFilter struct {
	Scraped    *bool
	Identified *bool
	Ignored    *bool
	HasContent *bool
	Limit      int
}

// ProductFilter paginates the catalog, optionally ranked by a full-text
// query against the product search vector.
type ProductFilter struct {
	Query  string
	Offset int
	Limit  int
}
