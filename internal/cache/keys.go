package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key builders. All pincrawl keys are namespaced under "pincrawl:".

func notifiedKey(accountID, adID uuid.UUID) string {
	return fmt.Sprintf("pincrawl:notified:%s:%s", accountID, adID)
}

func creditsKey(job string, day time.Time) string {
	return fmt.Sprintf("pincrawl:credits:%s:%s", job, day.Format("2006-01-02"))
}
