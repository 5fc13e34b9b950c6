package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pincrawl/pincrawl/pkg/models"
)

const extractionPrompt = `You are given the content of a classified ad for a pinball machine, in French.
Extract the following fields and answer with a single JSON object, nothing else:
{
  "ad": {
    "title": string or null,
    "description": string or null,
    "amount": integer price in cents or null,
    "currency": ISO 4217 code or null,
    "city": string or null,
    "zipcode": string or null,
    "seller": seller display name or null,
    "seller_url": seller profile URL or null
  },
  "product": {
    "name": pinball machine name,
    "manufacturer": string or null,
    "year": string or null
  } or null
}
Omit a field (use null) rather than guessing. Set "product" to null when the
ad does not name an identifiable pinball machine.

Ad content:
`

// OpenAIExtractor extracts ad fields with an OpenAI chat-completions call.
type OpenAIExtractor struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewOpenAIExtractor(baseURL, apiKey, model string, logger *slog.Logger) *OpenAIExtractor {
	return &OpenAIExtractor{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract sends the content to the model and parses its JSON answer.
func (e *OpenAIExtractor) Extract(ctx context.Context, content string) (*Result, error) {
	reqBody := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "user", Content: extractionPrompt + content},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading completion response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, httpResp.StatusCode, string(body))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return nil, ErrEmptyResponse
	}
	return parseExtraction(answer)
}

func parseExtraction(answer string) (*Result, error) {
	// Some models wrap JSON in a fenced block despite instructions.
	answer = strings.TrimPrefix(answer, "```json")
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(strings.TrimSpace(answer), "```")

	var parsed struct {
		Ad      models.AdInfo       `json:"ad"`
		Product *models.ProductInfo `json:"product"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if parsed.Product != nil && parsed.Product.Name == "" {
		parsed.Product = nil
	}
	return &Result{Ad: parsed.Ad, Product: parsed.Product}, nil
}
