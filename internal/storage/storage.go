// Package storage publishes run artifacts to S3-compatible object storage and
// records verdict history in Postgres. Both are optional.
package storage

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/kikiluvv/vigil/internal/inference"
)

// Publisher uploads a local file under key.
type Publisher interface {
	Publish(ctx context.Context, key, localPath string) error
}

// VerdictStore persists verdicts for a run.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, runID string, v inference.Verdict) error
	Close()
}

// ObjectKey builds "<runID>/<base name of localPath>".
func ObjectKey(runID, localPath string) string {
	return path.Join(runID, filepath.Base(localPath))
}

// ContentType guesses the MIME type from the extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/x-msvideo"
	case ".prom":
		return "text/plain; version=0.0.4"
	default:
		return "application/octet-stream"
	}
}
