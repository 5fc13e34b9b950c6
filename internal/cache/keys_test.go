package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNotifiedKey(t *testing.T) {
	account := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	ad := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	key := notifiedKey(account, ad)
	want := "pincrawl:notified:11111111-1111-1111-1111-111111111111:22222222-2222-2222-2222-222222222222"
	if key != want {
		t.Errorf("notifiedKey = %q, want %q", key, want)
	}
}

func TestCreditsKey_DayBucket(t *testing.T) {
	day := time.Date(2025, 3, 14, 23, 55, 0, 0, time.UTC)

	key := creditsKey("crawl", day)
	if !strings.HasSuffix(key, "2025-03-14") {
		t.Errorf("creditsKey = %q, want date suffix 2025-03-14", key)
	}
	if !strings.HasPrefix(key, "pincrawl:credits:crawl:") {
		t.Errorf("creditsKey = %q, want pincrawl:credits:crawl: prefix", key)
	}
}
