// Package archive assembles the per-job zip bundle with deterministic,
// collision-free entry names.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var entrySanitizer = regexp.MustCompile("[^a-z0-9_-]")

// EntryName derives a deterministic archive entry name from the source
// index and a sanitized title. The index prefix guarantees uniqueness even
// when two sources share a title.
func EntryName(index int, title, ext string) string {
	sanitized := sanitizeTitle(title)
	if sanitized == "" {
		sanitized = "media"
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%03d_%s.%s", index+1, sanitized, ext)
}

func sanitizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	title = strings.ReplaceAll(title, " ", "_")
	title = entrySanitizer.ReplaceAllString(title, "")
	if len(title) > 50 {
		title = title[:50]
	}
	return title
}

// Builder writes zip entries to an underlying writer.
type Builder struct {
	zw *zip.Writer
}

// NewBuilder creates a Builder writing to w.
func NewBuilder(w io.Writer) *Builder {
	return &Builder{zw: zip.NewWriter(w)}
}

// Add writes one entry. Entries are stored with deflate compression.
func (b *Builder) Add(name string, data []byte) error {
	entry, err := b.zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", name, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("failed to write zip entry %s: %w", name, err)
	}
	return nil
}

// AddFrom streams one entry from a reader.
func (b *Builder) AddFrom(name string, r io.Reader) error {
	entry, err := b.zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, r); err != nil {
		return fmt.Errorf("failed to write zip entry %s: %w", name, err)
	}
	return nil
}

// Close finalizes the archive. The Builder is unusable afterwards.
func (b *Builder) Close() error {
	return b.zw.Close()
}
