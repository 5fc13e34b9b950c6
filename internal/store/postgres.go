package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pincrawl/pincrawl/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Ads ---

const adColumns = `id, url, created_at, scraped_at, content, scrape_id,
	title, description, amount, currency, city, zipcode, seller, seller_url,
	identified_at, product, manufacturer, year, opdb_id,
	ignored, retries, previous_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAd(row rowScanner) (*models.Ad, error) {
	var a models.Ad
	err := row.Scan(&a.ID, &a.URL, &a.CreatedAt, &a.ScrapedAt, &a.Content, &a.ScrapeID,
		&a.Title, &a.Description, &a.Amount, &a.Currency, &a.City, &a.Zipcode, &a.Seller, &a.SellerURL,
		&a.IdentifiedAt, &a.Product, &a.Manufacturer, &a.Year, &a.OpdbID,
		&a.Ignored, &a.Retries, &a.PreviousID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) AdExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ads WHERE url = $1)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ad exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetAdByURL(ctx context.Context, url string) (*models.Ad, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+adColumns+` FROM ads WHERE url = $1`, url)
	ad, err := scanAd(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ad by url: %w", err)
	}
	return ad, nil
}

func (s *PostgresStore) ListAds(ctx context.Context, filter AdFilter) ([]*models.Ad, error) {
	conditions := []string{"TRUE"}
	args := []any{}

	if filter.Scraped != nil {
		if *filter.Scraped {
			conditions = append(conditions, "scraped_at IS NOT NULL")
		} else {
			conditions = append(conditions, "scraped_at IS NULL")
		}
	}
	if filter.Identified != nil {
		if *filter.Identified {
			conditions = append(conditions, "identified_at IS NOT NULL")
		} else {
			conditions = append(conditions, "identified_at IS NULL")
		}
	}
	if filter.Ignored != nil {
		conditions = append(conditions, fmt.Sprintf("ignored = $%d", len(args)+1))
		args = append(args, *filter.Ignored)
	}
	if filter.HasContent != nil {
		if *filter.HasContent {
			conditions = append(conditions, "content IS NOT NULL")
		} else {
			conditions = append(conditions, "content IS NULL")
		}
	}

	query := `SELECT ` + adColumns + ` FROM ads WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ads: %w", err)
	}
	defer rows.Close()

	var ads []*models.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

func (s *PostgresStore) UpsertAd(ctx context.Context, ad *models.Ad) (*models.Ad, error) {
	if ad.ID == uuid.Nil {
		ad.ID = uuid.New()
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO ads (id, url, created_at, scraped_at, content, scrape_id,
			title, description, amount, currency, city, zipcode, seller, seller_url,
			identified_at, product, manufacturer, year, opdb_id,
			ignored, retries, previous_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)
		 ON CONFLICT (url) DO UPDATE SET
			scraped_at = EXCLUDED.scraped_at,
			content = EXCLUDED.content,
			scrape_id = EXCLUDED.scrape_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			city = EXCLUDED.city,
			zipcode = EXCLUDED.zipcode,
			seller = EXCLUDED.seller,
			seller_url = EXCLUDED.seller_url,
			identified_at = EXCLUDED.identified_at,
			product = EXCLUDED.product,
			manufacturer = EXCLUDED.manufacturer,
			year = EXCLUDED.year,
			opdb_id = EXCLUDED.opdb_id,
			ignored = EXCLUDED.ignored,
			retries = EXCLUDED.retries,
			previous_id = EXCLUDED.previous_id
		 RETURNING `+adColumns,
		ad.ID, ad.URL, ad.CreatedAt, ad.ScrapedAt, ad.Content, ad.ScrapeID,
		ad.Title, ad.Description, ad.Amount, ad.Currency, ad.City, ad.Zipcode, ad.Seller, ad.SellerURL,
		ad.IdentifiedAt, ad.Product, ad.Manufacturer, ad.Year, ad.OpdbID,
		ad.Ignored, ad.Retries, ad.PreviousID)

	stored, err := scanAd(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("upsert ad: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) CountAds(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ads`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ads: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) FindPreviousAd(ctx context.Context, ad *models.Ad) (*models.Ad, error) {
	if ad.SellerURL == nil || ad.OpdbID == nil {
		return nil, ErrNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+adColumns+` FROM ads
		 WHERE seller_url = $1 AND opdb_id = $2 AND created_at < $3 AND id != $4
		 ORDER BY created_at DESC LIMIT 1`,
		*ad.SellerURL, *ad.OpdbID, ad.CreatedAt, ad.ID)
	prev, err := scanAd(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find previous ad: %w", err)
	}
	return prev, nil
}

func (s *PostgresStore) ListConfirmedSince(ctx context.Context, since time.Time) ([]*models.Ad, error) {
	query := `SELECT ` + adColumns + ` FROM ads WHERE opdb_id IS NOT NULL AND ignored = FALSE`
	args := []any{}
	if !since.IsZero() {
		query += ` AND identified_at >= $1`
		args = append(args, since)
	}
	query += ` ORDER BY identified_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list confirmed ads: %w", err)
	}
	defer rows.Close()

	var ads []*models.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

// --- Products ---

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (opdb_id, ipdb_id, name, shortname, manufacturer, type, year, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (opdb_id) DO UPDATE SET
			ipdb_id = EXCLUDED.ipdb_id,
			name = EXCLUDED.name,
			shortname = EXCLUDED.shortname,
			manufacturer = EXCLUDED.manufacturer,
			type = EXCLUDED.type,
			year = EXCLUDED.year`,
		p.OpdbID, p.IpdbID, p.Name, p.Shortname, p.Manufacturer, p.Type, p.Year, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, opdbID string) (*models.Product, error) {
	var p models.Product
	err := s.pool.QueryRow(ctx,
		`SELECT opdb_id, ipdb_id, name, shortname, manufacturer, type, year, created_at, embedding
		 FROM products WHERE opdb_id = $1`, opdbID,
	).Scan(&p.OpdbID, &p.IpdbID, &p.Name, &p.Shortname, &p.Manufacturer, &p.Type, &p.Year, &p.CreatedAt, &p.Embedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	var rows pgx.Rows
	var err error

	if q := strings.TrimSpace(filter.Query); q != "" {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM products WHERE search_vector @@ plainto_tsquery('english', $1)`, q,
		).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("count products: %w", err)
		}

		rows, err = s.pool.Query(ctx,
			`SELECT opdb_id, ipdb_id, name, shortname, manufacturer, type, year, created_at, embedding
			 FROM products
			 WHERE search_vector @@ plainto_tsquery('english', $1)
			 ORDER BY ts_rank(search_vector, plainto_tsquery('english', $1)) DESC
			 LIMIT $2 OFFSET $3`, q, limit, offset)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("count products: %w", err)
		}

		rows, err = s.pool.Query(ctx,
			`SELECT opdb_id, ipdb_id, name, shortname, manufacturer, type, year, created_at, embedding
			 FROM products ORDER BY name ASC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.OpdbID, &p.IpdbID, &p.Name, &p.Shortname, &p.Manufacturer,
			&p.Type, &p.Year, &p.CreatedAt, &p.Embedding); err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, &p)
	}
	return products, total, rows.Err()
}

func (s *PostgresStore) ListProductsWithEmbeddings(ctx context.Context) ([]*models.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT opdb_id, ipdb_id, name, shortname, manufacturer, type, year, created_at, embedding
		 FROM products WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list products with embeddings: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.OpdbID, &p.IpdbID, &p.Name, &p.Shortname, &p.Manufacturer,
			&p.Type, &p.Year, &p.CreatedAt, &p.Embedding); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) SetProductEmbedding(ctx context.Context, opdbID string, embedding []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET embedding = $2 WHERE opdb_id = $1`, opdbID, embedding)
	if err != nil {
		return fmt.Errorf("set product embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountProducts(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return count, nil
}

// --- Watching ---

func (s *PostgresStore) ListWatching(ctx context.Context) ([]*models.Watching, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, opdb_id, created_at FROM watching ORDER BY account_id, opdb_id`)
	if err != nil {
		return nil, fmt.Errorf("list watching: %w", err)
	}
	defer rows.Close()

	var watching []*models.Watching
	for rows.Next() {
		var w models.Watching
		if err := rows.Scan(&w.ID, &w.AccountID, &w.OpdbID, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan watching: %w", err)
		}
		watching = append(watching, &w)
	}
	return watching, rows.Err()
}

func (s *PostgresStore) ListWatchingForProducts(ctx context.Context, opdbIDs []string) ([]*models.Watching, error) {
	if len(opdbIDs) == 0 {
		return []*models.Watching{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, opdb_id, created_at FROM watching WHERE opdb_id = ANY($1)
		 ORDER BY account_id, opdb_id`, opdbIDs)
	if err != nil {
		return nil, fmt.Errorf("list watching: %w", err)
	}
	defer rows.Close()

	var watching []*models.Watching
	for rows.Next() {
		var w models.Watching
		if err := rows.Scan(&w.ID, &w.AccountID, &w.OpdbID, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan watching: %w", err)
		}
		watching = append(watching, &w)
	}
	return watching, rows.Err()
}

// --- Tasks ---

func (s *PostgresStore) ListTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, created_at FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) LatestTaskByName(ctx context.Context, name string) (*models.Task, error) {
	var t models.Task
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, created_at FROM tasks
		 WHERE name = $1 ORDER BY created_at DESC LIMIT 1`, name,
	).Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) LatestSuccessfulTask(ctx context.Context, name string) (*models.Task, error) {
	var t models.Task
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, created_at FROM tasks
		 WHERE name = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1`,
		name, models.TaskStatusSuccess,
	).Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest successful task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		task.ID, task.Name, task.Status, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2 WHERE id = $1 AND status = $3`,
		id, status, models.TaskStatusInProgress)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CleanupTasks(ctx context.Context, name string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("cleanup tasks: keep must be positive, got %d", keep)
	}

	// Threshold is the created_at of the keep-th most recent run; nothing is
	// deleted when fewer than keep runs exist.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE name = $1 AND created_at < (
			SELECT created_at FROM tasks WHERE name = $1
			ORDER BY created_at DESC OFFSET $2 LIMIT 1
		)`, name, keep-1)
	if err != nil {
		return 0, fmt.Errorf("cleanup tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
