package gallery

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	_ "image/jpeg"
	_ "image/png"

	"github.com/invigil-ai/invigil/internal/signal"
)

// Entry is one enrolled identity with its descriptor.
type Entry struct {
	Identity   string
	Descriptor signal.Descriptor
}

// Snapshot is an immutable view of the enrollment gallery. Entries keep
// their insertion order; the matcher's tie-break depends on it.
type Snapshot struct {
	entries []Entry
}

// NewSnapshot builds a snapshot from entries in order.
func NewSnapshot(entries []Entry) *Snapshot {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Snapshot{entries: out}
}

// Entries returns the enrolled entries in insertion order.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Len returns the number of enrolled identities.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Store holds the process-wide gallery. Reloads publish a complete new
// snapshot; readers always observe either the fully-old or fully-new
// gallery, never a partial one.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store holding an empty gallery.
func NewStore() *Store {
	st := &Store{}
	st.current.Store(NewSnapshot(nil))
	return st
}

// Snapshot returns the current gallery. Never nil.
func (st *Store) Snapshot() *Snapshot {
	return st.current.Load()
}

// Publish swaps in a fully-built snapshot.
func (st *Store) Publish(s *Snapshot) {
	if s == nil {
		s = NewSnapshot(nil)
	}
	st.current.Store(s)
}

// RejectedFile records one enrollment image that could not be used.
type RejectedFile struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// LoadReport describes the outcome of one gallery load.
type LoadReport struct {
	Loaded   []string       `json:"loaded"`
	Rejected []RejectedFile `json:"rejected"`
}

// LoadDir scans an enrolled-image directory and builds a gallery snapshot.
// The identity name is the file name without extension. Files yielding
// zero extractable faces (or more than one) are rejected and reported,
// never silently skipped; loading continues for the rest. Files are
// visited in sorted order so insertion order is reproducible.
func LoadDir(ctx context.Context, dir string, ex signal.Extractor) (*Snapshot, *LoadReport, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read enrollment dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	report := &LoadReport{}
	entries := make([]Entry, 0, len(names))

	for _, name := range names {
		identity := strings.TrimSuffix(name, filepath.Ext(name))
		path := filepath.Join(dir, name)

		img, err := decodeFile(path)
		if err != nil {
			report.Rejected = append(report.Rejected, RejectedFile{File: name, Reason: fmt.Sprintf("decode: %v", err)})
			continue
		}

		faces, err := ex.ExtractFaces(ctx, img)
		if err != nil {
			report.Rejected = append(report.Rejected, RejectedFile{File: name, Reason: fmt.Sprintf("extract: %v", err)})
			continue
		}
		switch len(faces) {
		case 0:
			report.Rejected = append(report.Rejected, RejectedFile{File: name, Reason: "no extractable face"})
			continue
		case 1:
			// ok
		default:
			report.Rejected = append(report.Rejected, RejectedFile{File: name, Reason: fmt.Sprintf("%d faces found, want exactly one", len(faces))})
			continue
		}

		entries = append(entries, Entry{Identity: identity, Descriptor: faces[0].Descriptor})
		report.Loaded = append(report.Loaded, identity)
	}

	return NewSnapshot(entries), report, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
