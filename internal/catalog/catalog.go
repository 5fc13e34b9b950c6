// Package catalog loads the product reference data and maintains its
// embedding index.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pincrawl/pincrawl/internal/embeddings"
	"github.com/pincrawl/pincrawl/internal/store"
	"github.com/pincrawl/pincrawl/pkg/models"
)

// DefaultExportURL is the public Open Pinball Database machine export.
const DefaultExportURL = "https://opdb.org/api/export"

// Service owns catalog maintenance: loading the machine export and
// generating embeddings for similarity matching.
type Service struct {
	store    store.Store
	embedder embeddings.Embedder
	upserter Upserter
	logger   *slog.Logger
}

// Upserter pushes indexed vectors to a remote index. Nil when matching runs
// locally.
type Upserter interface {
	UpsertVectors(ctx context.Context, batch []Vector) error
}

// Vector is one remote index entry.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]string
}

func NewService(st store.Store, embedder embeddings.Embedder, upserter Upserter, logger *slog.Logger) *Service {
	return &Service{store: st, embedder: embedder, upserter: upserter, logger: logger}
}

// opdbMachine mirrors the machine entries of the OPDB export.
type opdbMachine struct {
	OpdbID          string  `json:"opdb_id"`
	IpdbID          *int    `json:"ipdb_id"`
	Name            string  `json:"name"`
	Shortname       *string `json:"shortname"`
	MachineType     *string `json:"type"`
	ManufactureDate *string `json:"manufacture_date"`
	Manufacturer    *struct {
		Name string `json:"name"`
	} `json:"manufacturer"`
}

// Populate parses a machine export and upserts every entry. Re-running is
// safe: entries are keyed by opdb id.
func (s *Service) Populate(ctx context.Context, export io.Reader) (int, error) {
	var machines []opdbMachine
	if err := json.NewDecoder(export).Decode(&machines); err != nil {
		return 0, fmt.Errorf("parsing machine export: %w", err)
	}

	count := 0
	for _, m := range machines {
		if m.OpdbID == "" || m.Name == "" {
			continue
		}
		p := &models.Product{
			OpdbID:    m.OpdbID,
			IpdbID:    m.IpdbID,
			Name:      m.Name,
			Shortname: m.Shortname,
			Type:      m.MachineType,
		}
		if m.Manufacturer != nil && m.Manufacturer.Name != "" {
			p.Manufacturer = &m.Manufacturer.Name
		}
		if year := manufactureYear(m.ManufactureDate); year != "" {
			p.Year = &year
		}
		if err := s.store.UpsertProduct(ctx, p); err != nil {
			return count, fmt.Errorf("upserting product %s: %w", m.OpdbID, err)
		}
		count++
	}
	s.logger.Info("catalog populated", "products", count)
	return count, nil
}

// FetchExport downloads the machine export from url.
func FetchExport(ctx context.Context, url, token string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building export request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := (&http.Client{Timeout: 5 * time.Minute}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading export: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("export download status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// manufactureYear extracts the year from an export date like "1997-06-01".
func manufactureYear(date *string) string {
	if date == nil {
		return ""
	}
	parts := strings.SplitN(*date, "-", 2)
	if len(parts) == 0 || len(parts[0]) != 4 {
		return ""
	}
	return parts[0]
}

// Index embeds every product that has no stored embedding yet and, when a
// remote upserter is configured, pushes the vectors upstream in batches.
func (s *Service) Index(ctx context.Context) (int, error) {
	indexed := 0
	var batch []Vector

	// Page through the whole catalog; the store caps page sizes.
	for offset := 0; ; offset += listPageSize {
		products, _, err := s.store.ListProducts(ctx, store.ProductFilter{Limit: listPageSize, Offset: offset})
		if err != nil {
			return indexed, fmt.Errorf("listing products: %w", err)
		}

		for _, p := range products {
			if len(p.Embedding) > 0 {
				continue
			}
			vec, err := s.embedder.Embed(ctx, p.EmbeddingText())
			if err != nil {
				return indexed, fmt.Errorf("embedding product %s: %w", p.OpdbID, err)
			}
			if err := s.store.SetProductEmbedding(ctx, p.OpdbID, embeddings.Serialize(vec)); err != nil {
				return indexed, fmt.Errorf("storing embedding for %s: %w", p.OpdbID, err)
			}
			indexed++

			if s.upserter == nil {
				continue
			}
			batch = append(batch, Vector{ID: p.OpdbID, Values: vec, Metadata: productMetadata(p)})
			if len(batch) >= upsertBatchSize {
				if err := s.upserter.UpsertVectors(ctx, batch); err != nil {
					return indexed, fmt.Errorf("upserting vectors: %w", err)
				}
				batch = batch[:0]
			}
		}

		if len(products) < listPageSize {
			break
		}
	}
	if s.upserter != nil && len(batch) > 0 {
		if err := s.upserter.UpsertVectors(ctx, batch); err != nil {
			return indexed, fmt.Errorf("upserting vectors: %w", err)
		}
	}

	s.logger.Info("catalog indexed", "embedded", indexed)
	return indexed, nil
}

const upsertBatchSize = 100

// listPageSize matches the store's maximum product page size.
const listPageSize = 100

func productMetadata(p *models.Product) map[string]string {
	md := map[string]string{"name": p.Name}
	if p.Shortname != nil {
		md["shortname"] = *p.Shortname
	}
	if p.Manufacturer != nil {
		md["manufacturer"] = *p.Manufacturer
	}
	if p.Year != nil {
		md["year"] = *p.Year
	}
	return md
}
