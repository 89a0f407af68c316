package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogRotation moves a log file aside at startup once it is too large or too
// old. Zero limits disable the respective check.
type LogRotation struct {
	maxSize int64
	maxAge  time.Duration
	now     func() time.Time
}

func NewLogRotation(maxSize int64, maxAge time.Duration) *LogRotation {
	return &LogRotation{maxSize: maxSize, maxAge: maxAge, now: time.Now}
}

func (lr *LogRotation) ShouldRotate(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	if lr.maxSize > 0 && info.Size() >= lr.maxSize {
		return true
	}
	return lr.maxAge > 0 && lr.now().Sub(info.ModTime()) >= lr.maxAge
}

func (lr *LogRotation) Rotate(path string) (string, error) {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	newPath := fmt.Sprintf("%s-%s%s", base, lr.now().Format("20060102-150405"), ext)
	return newPath, os.Rename(path, newPath)
}

// Prepare creates the directory for path and rotates an existing file when
// needed. It returns the rotated path, or "" if nothing moved.
func (lr *LogRotation) Prepare(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create log directory: %w", err)
		}
	}
	if !lr.ShouldRotate(path) {
		return "", nil
	}
	rotated, err := lr.Rotate(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("rotate %s: %w", path, err)
	}
	return rotated, nil
}
