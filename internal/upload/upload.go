// Package upload turns client-supplied media into an input reference the
// transcription engine can resolve: a local file path for uploads, or the
// remote URL itself for links.
package upload

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmptyFile  = errors.New("uploaded file is empty")
	ErrInvalidURL = errors.New("url must be an absolute http or https URL")
)

// Saver persists uploaded files under a single directory.
type Saver struct {
	dir string
}

// NewSaver creates a Saver rooted at dir. The directory is created on first use.
func NewSaver(dir string) *Saver {
	return &Saver{dir: dir}
}

// Save writes r to a uniquely named file and returns its absolute path.
// The original file name is kept after a random prefix so names never collide.
func (s *Saver) Save(filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	name := uuid.NewString() + "_" + sanitize(filename)
	path, err := filepath.Abs(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("resolve upload path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = ErrEmptyFile
	}
	if err != nil {
		_ = os.Remove(path)
		if errors.Is(err, ErrEmptyFile) {
			return "", err
		}
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

// sanitize strips any directory components a client may have sent.
func sanitize(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	return base
}

// ValidateLink checks that raw is a remote media reference the engine can fetch
// and returns it trimmed. The content itself is not retrieved here.
func ValidateLink(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}
	return raw, nil
}
