// Package archive exports probe history as JSON lines, to a local writer or
// to an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/reachprobe/internal/storage"
)

// KeyPrefix is the object prefix every uploaded export lives under.
const KeyPrefix = "history/"

// HistorySource is the store query an export reads from.
type HistorySource interface {
	History(ctx context.Context, f storage.HistoryFilter) ([]storage.HistoryEntry, error)
}

// WriteJSONL writes one JSON object per line and returns the number of entries written.
func WriteJSONL(w io.Writer, entries []storage.HistoryEntry) (int, error) {
	enc := json.NewEncoder(w)
	for i, e := range entries {
		if err := enc.Encode(e); err != nil {
			return i, fmt.Errorf("encoding entry %d: %w", e.ID, err)
		}
	}
	return len(entries), nil
}

// ObjectKey names an export uploaded at t.
func ObjectKey(t time.Time) string {
	return fmt.Sprintf("%s%s-%s.jsonl", KeyPrefix, t.UTC().Format("20060102T150405Z"), uuid.NewString())
}

// Export writes the history selected by f to w.
func Export(ctx context.Context, src HistorySource, f storage.HistoryFilter, w io.Writer) (int, error) {
	entries, err := src.History(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("reading history: %w", err)
	}
	return WriteJSONL(w, entries)
}

// Uploader stores an object.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
}

// ExportToBucket uploads the history selected by f and returns the object key.
func ExportToBucket(ctx context.Context, src HistorySource, f storage.HistoryFilter, up Uploader) (string, int, error) {
	var buf bytes.Buffer
	n, err := Export(ctx, src, f, &buf)
	if err != nil {
		return "", 0, err
	}
	key := ObjectKey(time.Now())
	if err := up.Upload(ctx, key, &buf, int64(buf.Len())); err != nil {
		return "", 0, err
	}
	return key, n, nil
}
