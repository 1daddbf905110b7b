package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FilesystemStore stores assets under a date-bucketed directory layout
// (base/YYYY/MM/DD/<id>.<ext>). The <id> is a random UUID, not derived from
// the content, so saving the same bytes twice stores two copies. Grounded on the teacher's
// internal/artifacts/local_store.go. An in-memory index mapping asset ID to
// its relative path and MIME type is persisted alongside the data so Get
// does not need to re-derive an extension from a MIME sniff.
type FilesystemStore struct {
	mu        sync.Mutex
	basePath  string
	indexPath string
	index     map[string]fsIndexEntry
}

type fsIndexEntry struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type"`
}

// NewFilesystemStore opens (creating if necessary) an asset store rooted at
// basePath.
func NewFilesystemStore(basePath string) (*FilesystemStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("assets: create base dir: %w", err)
	}
	s := &FilesystemStore{
		basePath:  basePath,
		indexPath: filepath.Join(basePath, "index.json"),
		index:     map[string]fsIndexEntry{},
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FilesystemStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("assets: read index: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.index)
}

// persistIndexLocked writes the index atomically; caller must hold s.mu.
func (s *FilesystemStore) persistIndexLocked() error {
	data, err := json.Marshal(s.index)
	if err != nil {
		return fmt.Errorf("assets: marshal index: %w", err)
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("assets: write index: %w", err)
	}
	return os.Rename(tmp, s.indexPath)
}

func (s *FilesystemStore) Save(ctx context.Context, data []byte, mimeType string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	relDir := filepath.Join(now.Format("2006"), now.Format("01"), now.Format("02"))
	absDir := filepath.Join(s.basePath, relDir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("assets: mkdir %s: %w", absDir, err)
	}

	relPath := filepath.Join(relDir, id+extensionForMime(mimeType))
	absPath := filepath.Join(s.basePath, relPath)

	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("assets: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		return "", fmt.Errorf("assets: rename into place: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[id] = fsIndexEntry{Path: relPath, MimeType: mimeType}
	if err := s.persistIndexLocked(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *FilesystemStore) Get(ctx context.Context, assetID string) (*Asset, error) {
	s.mu.Lock()
	entry, ok := s.index[assetID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, entry.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("assets: read %s: %w", entry.Path, err)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return &Asset{MimeType: entry.MimeType, Data: out}, nil
}

// PublicURL is always empty for FilesystemStore: local files are not
// independently reachable, so callers must resolve to inline bytes instead.
func (s *FilesystemStore) PublicURL(ctx context.Context, assetID string) (string, error) {
	return "", nil
}

func extensionForMime(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "text/html":
		return ".html"
	case "application/json":
		return ".json"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
