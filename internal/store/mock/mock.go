// Package mock provides an in-memory Store for tests.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pincrawl/pincrawl/internal/store"
	"github.com/pincrawl/pincrawl/pkg/models"
)

// Store is an in-memory implementation of store.Store backed by maps. It
// mirrors the Postgres store's semantics closely enough for pipeline tests:
// upsert-by-URL, filtered listings, previous-ad lookup and task ordering.
type Store struct {
	mu       sync.Mutex
	ads      map[string]*models.Ad // keyed by URL
	products map[string]*models.Product
	watching []*models.Watching
	tasks    []*models.Task

	// Err, when set, is returned by every method. Lets tests exercise
	// failure paths without a separate stub.
	Err error
}

func New() *Store {
	return &Store{
		ads:      make(map[string]*models.Ad),
		products: make(map[string]*models.Product),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return s.Err }

func copyAd(a *models.Ad) *models.Ad {
	c := *a
	return &c
}

func (s *Store) AdExists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	_, ok := s.ads[url]
	return ok, nil
}

func (s *Store) GetAdByURL(ctx context.Context, url string) (*models.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	ad, ok := s.ads[url]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyAd(ad), nil
}

func (s *Store) ListAds(ctx context.Context, filter store.AdFilter) ([]*models.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.Ad
	for _, ad := range s.ads {
		if filter.Scraped != nil && ad.Scraped() != *filter.Scraped {
			continue
		}
		if filter.Identified != nil && ad.Identified() != *filter.Identified {
			continue
		}
		if filter.Ignored != nil && ad.Ignored != *filter.Ignored {
			continue
		}
		if filter.HasContent != nil && (ad.Content != nil) != *filter.HasContent {
			continue
		}
		out = append(out, copyAd(ad))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpsertAd(ctx context.Context, ad *models.Ad) (*models.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	existing, ok := s.ads[ad.URL]
	stored := copyAd(ad)
	if ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
	}
	s.ads[ad.URL] = stored
	return copyAd(stored), nil
}

func (s *Store) CountAds(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return len(s.ads), nil
}

func (s *Store) FindPreviousAd(ctx context.Context, ad *models.Ad) (*models.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if ad.SellerURL == nil || ad.OpdbID == nil {
		return nil, store.ErrNotFound
	}
	var best *models.Ad
	for _, other := range s.ads {
		if other.ID == ad.ID || other.SellerURL == nil || other.OpdbID == nil {
			continue
		}
		if *other.SellerURL != *ad.SellerURL || *other.OpdbID != *ad.OpdbID {
			continue
		}
		if !other.CreatedAt.Before(ad.CreatedAt) {
			continue
		}
		if best == nil || other.CreatedAt.After(best.CreatedAt) {
			best = other
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return copyAd(best), nil
}

func (s *Store) ListConfirmedSince(ctx context.Context, since time.Time) ([]*models.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.Ad
	for _, ad := range s.ads {
		if ad.OpdbID == nil || ad.Ignored {
			continue
		}
		if !since.IsZero() && (ad.IdentifiedAt == nil || ad.IdentifiedAt.Before(since)) {
			continue
		}
		out = append(out, copyAd(ad))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c := *p
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.products[p.OpdbID] = &c
	return nil
}

func (s *Store) GetProduct(ctx context.Context, opdbID string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.products[opdbID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) ListProducts(ctx context.Context, filter store.ProductFilter) ([]*models.Product, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, 0, s.Err
	}
	var all []*models.Product
	for _, p := range s.products {
		if filter.Query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Query)) {
			continue
		}
		c := *p
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			all = nil
		} else {
			all = all[filter.Offset:]
		}
	}
	// Same page-size clamp as the real store.
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *Store) ListProductsWithEmbeddings(ctx context.Context) ([]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.Product
	for _, p := range s.products {
		if len(p.Embedding) == 0 {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpdbID < out[j].OpdbID })
	return out, nil
}

func (s *Store) SetProductEmbedding(ctx context.Context, opdbID string, embedding []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.products[opdbID]
	if !ok {
		return store.ErrNotFound
	}
	p.Embedding = embedding
	return nil
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	return len(s.products), nil
}

func (s *Store) AddWatching(w *models.Watching) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *w
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.watching = append(s.watching, &c)
}

func (s *Store) ListWatching(ctx context.Context) ([]*models.Watching, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]*models.Watching, 0, len(s.watching))
	for _, w := range s.watching {
		c := *w
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) ListWatchingForProducts(ctx context.Context, opdbIDs []string) ([]*models.Watching, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	wanted := make(map[string]struct{}, len(opdbIDs))
	for _, id := range opdbIDs {
		wanted[id] = struct{}{}
	}
	var out []*models.Watching
	for _, w := range s.watching {
		if _, ok := wanted[w.OpdbID]; ok {
			c := *w
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) ListTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LatestTaskByName(ctx context.Context, name string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var latest *models.Task
	for _, t := range s.tasks {
		if t.Name != name {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (s *Store) LatestSuccessfulTask(ctx context.Context, name string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var latest *models.Task
	for _, t := range s.tasks {
		if t.Name != name || t.Status != models.TaskStatusSuccess {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c := *task
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
		task.ID = c.ID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
		task.CreatedAt = c.CreatedAt
	}
	s.tasks = append(s.tasks, &c)
	return nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, t := range s.tasks {
		if t.ID == id && t.Status == models.TaskStatusInProgress {
			t.Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CleanupTasks(ctx context.Context, name string, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var named []*models.Task
	for _, t := range s.tasks {
		if t.Name == name {
			named = append(named, t)
		}
	}
	if len(named) <= keep {
		return 0, nil
	}
	sort.Slice(named, func(i, j int) bool { return named[i].CreatedAt.After(named[j].CreatedAt) })
	cutoff := named[keep-1].CreatedAt

	var kept []*models.Task
	var deleted int64
	for _, t := range s.tasks {
		if t.Name == name && t.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	return deleted, nil
}

// Tasks returns a snapshot of all stored tasks, newest first.
func (s *Store) Tasks() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
