package changes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FingerprintFileName is the file the file store writes under its base path
const FingerprintFileName = "fingerprints.json"

type fileStore struct {
	basePath string
}

// NewFileStore creates a store keeping all fingerprints in one JSON file
func NewFileStore(basePath string) Store {
	return &fileStore{basePath: basePath}
}

func (f *fileStore) Load(_ context.Context) (map[int64]Entry, error) {
	// #nosec G304 -- basePath comes from configuration
	data, err := os.ReadFile(filepath.Join(f.basePath, FingerprintFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[int64]Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read fingerprints: %w", err)
	}

	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprints: %w", err)
	}

	entries := make(map[int64]Entry, len(raw))
	for key, entry := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid member id %q in fingerprints", key)
		}
		entries[id] = entry
	}
	return entries, nil
}

func (f *fileStore) Save(_ context.Context, entries map[int64]Entry) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create fingerprint directory: %w", err)
	}

	raw := make(map[string]Entry, len(entries))
	for id, entry := range entries {
		raw[strconv.FormatInt(id, 10)] = entry
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprints: %w", err)
	}

	filePath := filepath.Join(f.basePath, FingerprintFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary fingerprint file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename fingerprint file: %w", err)
	}
	return nil
}
