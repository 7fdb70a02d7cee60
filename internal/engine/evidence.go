package engine

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// EvidenceStore writes violation evidence images under a single
// directory. Files are named by violation id so a row's evidence_path
// can always be reconstructed from the id alone.
type EvidenceStore struct {
	dir string
}

// NewEvidenceStore creates the directory if needed.
func NewEvidenceStore(dir string) (*EvidenceStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("evidence dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &EvidenceStore{dir: dir}, nil
}

// Write stores the evidence bytes and returns the file path. The
// extension follows the sniffed content type; unknown payloads get .bin.
func (s *EvidenceStore) Write(violationID string, data []byte) (string, error) {
	path := filepath.Join(s.dir, violationID+extensionFor(data))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence %s: %w", violationID, err)
	}
	return path, nil
}

func extensionFor(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ".bin"
	}
}
