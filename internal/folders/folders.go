package folders

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	Configs     = "configs"
	Populations = "populations"
	Runs        = "runs"
)

// SnapshotKind prefixes population snapshot file names.
type SnapshotKind string

const (
	SnapshotBest SnapshotKind = "Best"
	SnapshotAll  SnapshotKind = "All"
)

const snapshotTimeLayout = "2006-01-02--15-04-05"

// Layout roots the game folders.
type Layout struct {
	Root string
}

// DefaultRoot is ~/CarBrains, or ./CarBrains when the home directory is
// unknown.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "CarBrains"
	}
	return filepath.Join(home, "CarBrains")
}

func (l Layout) root() string {
	if l.Root == "" {
		return DefaultRoot()
	}
	return l.Root
}

func (l Layout) Path(name string) string {
	return filepath.Join(l.root(), name)
}

// Ensure creates the named folder and returns its path.
func (l Layout) Ensure(name string) (string, error) {
	dir := l.Path(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure %s folder: %w", name, err)
	}
	return dir, nil
}

// SnapshotName is <kind>-<yyyy-MM-dd--HH-mm-ss>-<seeds>.json with seeds
// joined by "-" and random slots written as "r".
func SnapshotName(kind SnapshotKind, at time.Time, seeds []*int64) string {
	parts := make([]string, len(seeds))
	for i, s := range seeds {
		if s == nil {
			parts[i] = "r"
			continue
		}
		parts[i] = strconv.FormatInt(*s, 10)
	}
	return fmt.Sprintf("%s-%s-%s.json", kind, at.Format(snapshotTimeLayout), strings.Join(parts, "-"))
}

// SnapshotPath ensures the populations folder and returns a snapshot path in it.
func (l Layout) SnapshotPath(kind SnapshotKind, at time.Time, seeds []*int64) (string, error) {
	dir, err := l.Ensure(Populations)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SnapshotName(kind, at, seeds)), nil
}

// List returns the files in a folder matching pattern, sorted by name.
func (l Layout) List(name, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.Path(name), pattern))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
