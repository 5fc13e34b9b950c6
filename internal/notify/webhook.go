package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pincrawl/pincrawl/pkg/models"
)

// WebhookNotifier posts account notifications to an outbound webhook. The
// receiving service owns channel fan-out (mail, push) per account.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	AccountID uuid.UUID   `json:"account_id"`
	Ads       []webhookAd `json:"ads"`
}

type webhookAd struct {
	URL          string  `json:"url"`
	Title        *string `json:"title,omitempty"`
	Amount       *int    `json:"amount,omitempty"`
	Currency     *string `json:"currency,omitempty"`
	City         *string `json:"city,omitempty"`
	Product      *string `json:"product,omitempty"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	Year         *string `json:"year,omitempty"`
	OpdbID       *string `json:"opdb_id,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, accountID uuid.UUID, ads []*models.Ad) error {
	payload := webhookPayload{AccountID: accountID, Ads: make([]webhookAd, 0, len(ads))}
	for _, ad := range ads {
		payload.Ads = append(payload.Ads, webhookAd{
			URL:          ad.URL,
			Title:        ad.Title,
			Amount:       ad.Amount,
			Currency:     ad.Currency,
			City:         ad.City,
			Product:      ad.Product,
			Manufacturer: ad.Manufacturer,
			Year:         ad.Year,
			OpdbID:       ad.OpdbID,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification webhook status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)
