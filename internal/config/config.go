// Package config loads optional file-based configuration for the CLI,
// in the human-friendly JSON-with-comments dialect (JWCC): trailing commas
// and // and /* */ comments are accepted, then standardized to plain JSON
// before being decoded.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// File is the on-disk shape of a fimwatch config file. Every field is
// optional; CLI flags always take precedence over a value set here.
type File struct {
	Roots              []string `json:"roots,omitempty"`
	Exclude            []string `json:"exclude,omitempty"`
	IgnoreFile         string   `json:"ignore_file,omitempty"`
	NoAutoIgnoreFiles  bool     `json:"no_auto_ignore_files,omitempty"`
	StorePath          string   `json:"store_path,omitempty"`
	Threads            int      `json:"threads,omitempty"`
	MaxFileSize        uint64   `json:"max_file_size,omitempty"`
	SHA256             bool     `json:"sha256,omitempty"`
	SHA1               bool     `json:"sha1,omitempty"`
	MD5                bool     `json:"md5,omitempty"`
	DebounceMillis     int      `json:"debounce_millis,omitempty"`
	MaxEventsPerSecond int      `json:"max_events_per_second,omitempty"`
}

// Load reads and decodes a JWCC config file at path. An empty path is not
// an error; Load returns a zero File so callers can treat "no config file"
// and "empty config file" identically. A non-empty path that cannot be
// read is an error.
func Load(path string) (File, error) {
	var f File
	if path == "" {
		return f, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("config: read %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return f, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := json.Unmarshal(std, &f); err != nil {
		return f, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return f, nil
}
