package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/internal/cache"
)

// ErrResultNotFound is returned when a completed job's artifact is missing on disk.
var ErrResultNotFound = errors.New("result file not found")

// Formats the engine writes next to the plain-text transcript.
var resultFormats = map[string]bool{
	"txt": true,
	"srt": true,
	"vtt": true,
}

// NormalizeFormat maps a requested download format to a supported extension.
// Unknown or empty formats fall back to txt.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if resultFormats[f] {
		return f
	}
	return "txt"
}

// ResultLocator resolves the artifacts of a completed job from its output ref.
// The job record only stores the plain-text path; every other variant is
// found by file name at read time.
type ResultLocator struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewResultLocator creates a ResultLocator. A nil cache disables transcript caching.
func NewResultLocator(c cache.Cache, ttl time.Duration) *ResultLocator {
	return &ResultLocator{cache: c, ttl: ttl}
}

// FormatPath returns the artifact path for format, derived from outputRef
// by swapping the extension.
func (l *ResultLocator) FormatPath(outputRef, format string) string {
	base := strings.TrimSuffix(outputRef, filepath.Ext(outputRef))
	return base + "." + NormalizeFormat(format)
}

// TranscriptPath prefers the timestamped transcript when the engine produced one.
func (l *ResultLocator) TranscriptPath(outputRef string) string {
	base := strings.TrimSuffix(outputRef, filepath.Ext(outputRef))
	stamped := base + "_timestamped.txt"
	if _, err := os.Stat(stamped); err == nil {
		return stamped
	}
	return outputRef
}

// Transcript returns the transcript text for a completed job.
func (l *ResultLocator) Transcript(ctx context.Context, jobID uuid.UUID, outputRef string) (string, error) {
	key := cache.TranscriptKey(jobID)
	if l.cache != nil {
		if data, found, err := l.cache.Get(ctx, key); err == nil && found {
			return string(data), nil
		} else if err != nil {
			slog.Warn("transcript cache read failed", "job_id", jobID, "error", err)
		}
	}

	data, err := os.ReadFile(l.TranscriptPath(outputRef))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrResultNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, key, data, l.ttl); err != nil {
			slog.Warn("transcript cache write failed", "job_id", jobID, "error", err)
		}
	}
	return string(data), nil
}
