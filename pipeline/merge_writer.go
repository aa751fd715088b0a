package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-stay-rates/models"
)

// MergeWriter maintains a single JSON object keyed by listing id. Existing
// file contents are loaded on creation and new records are deep-merged into
// them, so repeated runs refine the same document. The file is rewritten
// after every batch.
type MergeWriter struct {
	path     string
	listings map[string]map[string]any
	mu       sync.Mutex
}

// NewMergeWriter loads path if it exists.
func NewMergeWriter(path string) (*MergeWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	listings := make(map[string]map[string]any)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read merge file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &listings); err != nil {
			return nil, fmt.Errorf("decode merge file %s: %w", path, err)
		}
	}

	return &MergeWriter{path: path, listings: listings}, nil
}

func (mw *MergeWriter) Write(records []*models.ListingRates) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, r := range records {
		incoming, err := toDocument(r)
		if err != nil {
			return err
		}
		if existing, ok := mw.listings[r.ListingID]; ok {
			mw.listings[r.ListingID] = mergeDocuments(existing, incoming)
		} else {
			mw.listings[r.ListingID] = incoming
		}
	}
	return mw.flushLocked()
}

func (mw *MergeWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.flushLocked()
}

// Validate ensures at least one listing is present.
func (mw *MergeWriter) Validate() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if len(mw.listings) == 0 {
		return fmt.Errorf("merge file %s has no listings", mw.path)
	}
	return nil
}

// Listings returns a copy of the merged document.
func (mw *MergeWriter) Listings() map[string]map[string]any {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	out := make(map[string]map[string]any, len(mw.listings))
	for k, v := range mw.listings {
		out[k] = v
	}
	return out
}

func (mw *MergeWriter) flushLocked() error {
	data, err := json.MarshalIndent(mw.listings, "", "    ")
	if err != nil {
		return fmt.Errorf("encode merge file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(mw.path), ".merge-*.json")
	if err != nil {
		return fmt.Errorf("create temp merge file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write merge file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close merge file: %w", err)
	}
	if err := os.Rename(tmp.Name(), mw.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace merge file: %w", err)
	}
	return nil
}

func toDocument(r *models.ListingRates) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode listing %s: %w", r.ListingID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", r.ListingID, err)
	}
	return doc, nil
}

// mergeDocuments returns base updated with overlay. Nested objects present
// on both sides are merged recursively; any other overlay value replaces the
// base value. Neither input is modified.
func mergeDocuments(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		next, ok := v.(map[string]any)
		prev, prevOK := merged[k].(map[string]any)
		if ok && prevOK {
			merged[k] = mergeDocuments(prev, next)
			continue
		}
		merged[k] = v
	}
	return merged
}
