// Package scraper retrieves listing pages and search results through
// swappable backends. Every failure crossing this boundary is classified
// into one of three kinds; no backend-specific error escapes.
package scraper

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a retrieval failure.
type ErrorKind int

const (
	// KindRetryNow is a transient fault. Retry immediately within the same
	// attempt budget.
	KindRetryNow ErrorKind = iota
	// KindRetryLater is a rate-limit or capacity fault. Abort this run and
	// leave the work for the next scheduled invocation.
	KindRetryLater
	// KindUnrecoverable is a structurally invalid target. The listing should
	// be ignored and never retried.
	KindUnrecoverable
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetryNow:
		return "retry_now"
	case KindRetryLater:
		return "retry_later"
	case KindUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Error is the only error type returned by Retriever implementations.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("scrape %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("scrape %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, StatusCode: status, Message: msg, cause: cause}
}

func kindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsRetryNow reports whether err is a transient retrieval fault.
func IsRetryNow(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRetryNow
}

// IsRetryLater reports whether err is a rate-limit or capacity fault.
func IsRetryLater(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRetryLater
}

// IsUnrecoverable reports whether err marks a structurally invalid target.
func IsUnrecoverable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnrecoverable
}

// LinksResult holds the outcome of a search-results retrieval.
type LinksResult struct {
	Links       []string
	StatusCode  int
	CreditsUsed int
}

// ScrapeResult holds the outcome of a single-page retrieval.
type ScrapeResult struct {
	Content     string
	StatusCode  int
	CreditsUsed int
	ScrapeID    string
}

// Retriever fetches pages through an HTTP/proxy boundary.
type Retriever interface {
	// GetLinks retrieves a search-results page and returns the links it
	// contains.
	GetLinks(ctx context.Context, url string) (*LinksResult, error)
	// Retrieve fetches a single listing page.
	Retrieve(ctx context.Context, url string) (*ScrapeResult, error)
}

// ProxyEscalator is implemented by retrievers that support switching to a
// stealthier proxy mode at runtime. EscalateProxy returns false when no
// further escalation is available.
type ProxyEscalator interface {
	EscalateProxy() bool
}
