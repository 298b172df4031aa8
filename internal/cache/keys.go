package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func TranscriptKey(jobID uuid.UUID) string {
	return fmt.Sprintf("transcript:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
