package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lucho00cuba/fimwatch/internal/store"
)

// exportEntry is the JSON-on-disk shape for one fingerprinted file. Field
// names intentionally mirror the Fingerprint's domain vocabulary rather
// than its Go field names.
type exportEntry struct {
	Path   string `json:"path"`
	Size   uint64 `json:"size"`
	Perm   string `json:"perm"`
	UID    uint32 `json:"uid"`
	GID    uint32 `json:"gid"`
	BLAKE3 string `json:"blake3"`
	SHA256 string `json:"sha256,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	MD5    string `json:"md5,omitempty"`
	MTime  string `json:"mtime"`
	CTime  string `json:"ctime"`
	ATime  string `json:"atime"`
	Inode  uint64 `json:"inode"`
	Dev    uint64 `json:"dev"`
}

type exportChange struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	DetectedAt string `json:"detected_at"`
}

type exportDocument struct {
	GeneratedAt string         `json:"generated_at"`
	Entries     []exportEntry  `json:"entries"`
	Changes     []exportChange `json:"changes,omitempty"`
}

// ExportJSON serializes entries and changes to w as a single JSON
// document. Timestamps are encoded as RFC3339 strings.
func ExportJSON(w io.Writer, entries []store.Entry, changes []ChangeRecord, generatedAt time.Time) error {
	doc := exportDocument{
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Entries:     make([]exportEntry, 0, len(entries)),
		Changes:     make([]exportChange, 0, len(changes)),
	}

	for _, e := range entries {
		fp := e.Fingerprint
		doc.Entries = append(doc.Entries, exportEntry{
			Path: e.Path, Size: fp.Size, Perm: fp.Perm, UID: fp.UID, GID: fp.GID,
			BLAKE3: fp.PrimaryHash, SHA256: fp.SHA256, SHA1: fp.SHA1, MD5: fp.MD5,
			MTime: fp.MTime.UTC().Format(time.RFC3339),
			CTime: fp.CTime.UTC().Format(time.RFC3339),
			ATime: fp.ATime.UTC().Format(time.RFC3339),
			Inode: fp.Inode, Dev: fp.Dev,
		})
	}

	for _, c := range changes {
		doc.Changes = append(doc.Changes, exportChange{
			Path: c.Path, Kind: c.Kind.String(), DetectedAt: c.DetectedAt.UTC().Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("engine: encode export document: %w", err)
	}
	return nil
}

// Export walks the store's current entries and writes them to w as JSON.
func (e *Engine) Export(ctx context.Context, w io.Writer) error {
	entries, err := e.st.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("engine: list entries for export: %w", err)
	}
	return ExportJSON(w, entries, nil, time.Now())
}

// DataChecksum returns the hex-encoded fold of every entry's primary hash,
// in ascending path order — a single fingerprint of the whole store.
func (e *Engine) DataChecksum(ctx context.Context) (string, error) {
	sum, err := e.st.DataChecksum(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sum), nil
}
