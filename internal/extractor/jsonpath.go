package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/pincrawl/pincrawl/pkg/models"
)

// FieldMap binds ad and product attributes to gjson paths evaluated against
// JSON page content.
type FieldMap struct {
	Ad      map[string]string `json:"ad"`
	Product map[string]string `json:"product"`
}

// JSONPathExtractor extracts fields from structured JSON content using a
// declarative path mapping. It suits sources that expose their listing data
// as an embedded JSON document instead of prose.
type JSONPathExtractor struct {
	fields FieldMap
}

// NewJSONPathExtractor loads a field mapping from the given file.
func NewJSONPathExtractor(mapFile string) (*JSONPathExtractor, error) {
	data, err := os.ReadFile(mapFile)
	if err != nil {
		return nil, fmt.Errorf("reading field map: %w", err)
	}
	var fields FieldMap
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parsing field map: %w", err)
	}
	return &JSONPathExtractor{fields: fields}, nil
}

// Extract evaluates every mapped path against the content. Missing paths
// leave their field unset. Product is nil unless at least the name path
// resolves.
func (e *JSONPathExtractor) Extract(_ context.Context, content string) (*Result, error) {
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid JSON", ErrInvalidResponse)
	}

	result := &Result{}
	for field, path := range e.fields.Ad {
		v := gjson.Get(content, path)
		if !v.Exists() {
			continue
		}
		switch field {
		case "title":
			result.Ad.Title = strptr(v.String())
		case "description":
			result.Ad.Description = strptr(v.String())
		case "amount":
			result.Ad.Amount = amountPtr(v)
		case "currency":
			result.Ad.Currency = strptr(v.String())
		case "city":
			result.Ad.City = strptr(v.String())
		case "zipcode":
			result.Ad.Zipcode = strptr(v.String())
		case "seller":
			result.Ad.Seller = strptr(v.String())
		case "seller_url":
			result.Ad.SellerURL = strptr(v.String())
		}
	}

	var product models.ProductInfo
	for field, path := range e.fields.Product {
		v := gjson.Get(content, path)
		if !v.Exists() {
			continue
		}
		switch field {
		case "name":
			product.Name = v.String()
		case "manufacturer":
			product.Manufacturer = strptr(v.String())
		case "year":
			product.Year = strptr(yearString(v))
		}
	}
	if product.Name != "" {
		result.Product = &product
	}
	return result, nil
}

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func amountPtr(v gjson.Result) *int {
	switch v.Type {
	case gjson.Number:
		n := int(v.Int())
		return &n
	case gjson.String:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

func yearString(v gjson.Result) string {
	if v.Type == gjson.Number {
		return strconv.FormatInt(v.Int(), 10)
	}
	return v.String()
}
