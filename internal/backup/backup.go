// Package backup keeps raw copies of ingested documents on disk so the
// vector store can be rebuilt from source material.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/suPer8Hu/knowledge-chat/internal/log"
)

// MaxFileSize caps a single backup at 10 MB.
const MaxFileSize = 10 << 20

var (
	ErrTooLarge      = errors.New("backup: file exceeds size limit")
	ErrBadIdentifier = errors.New("backup: invalid identifier")
)

type Manager struct {
	dir    string
	keep   int
	logger log.Logger
}

func NewManager(dir string, keep int, logger log.Logger) (*Manager, error) {
	if keep < 1 {
		keep = 5
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Manager{dir: dir, keep: keep, logger: logger.With("component", "backup")}, nil
}

// Save writes one backup named {base_id}_{timestamp}_{sanitized filename}.
func (m *Manager) Save(baseID, filename string, data []byte) (string, error) {
	if err := validIdentifier(baseID); err != nil {
		return "", err
	}
	if len(data) > MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	name := fmt.Sprintf("%s_%s_%s", baseID, time.Now().Format("20060102_150405"), sanitizeFilename(filename))
	path := filepath.Join(m.dir, name)
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(m.dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path escapes backup dir", ErrBadIdentifier)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	m.logger.Debug("backup saved", "file", name, "bytes", len(data))
	return path, nil
}

// DeleteByBaseID removes every backup of one document.
func (m *Manager) DeleteByBaseID(baseID string) error {
	if err := validIdentifier(baseID); err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(m.dir, baseID+"_*"))
	if err != nil {
		return fmt.Errorf("glob backups: %w", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove backup: %w", err)
		}
	}
	return nil
}

// Prune keeps only the newest backups per base id.
func (m *Manager) Prune() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}

	type file struct {
		name    string
		modTime time.Time
	}
	byBase := make(map[string][]file)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		byBase[base] = append(byBase[base], file{name: entry.Name(), modTime: info.ModTime()})
	}

	removed := 0
	for _, files := range byBase {
		if len(files) <= m.keep {
			continue
		}
		sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
		for _, f := range files[m.keep:] {
			if err := os.Remove(filepath.Join(m.dir, f.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("prune backup: %w", err)
			}
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("pruned backups", "removed", removed)
	}
	return nil
}

// validIdentifier accepts alphanumerics, underscores and hyphens up to 255
// bytes. Anything else could escape the backup directory.
func validIdentifier(id string) error {
	if id == "" || len(id) > 255 {
		return ErrBadIdentifier
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrBadIdentifier, id)
		}
	}
	return nil
}

// sanitizeFilename strips path components and replaces unsafe runes.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(os.PathSeparator) || name == "" {
		return "unnamed"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 128 {
		out = out[:128]
	}
	return out
}
