package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"scoremark/internal/logging"
)

// IndexName is the index file kept in the score directory.
const IndexName = "index.json"

// ScoreExtensions are the file types picked up when building an index.
var ScoreExtensions = []string{".musicxml", ".xml", ".mxl", ".krn"}

// FileEntry is one score of the index. Path is relative to the score
// directory.
type FileEntry struct {
	Path      string    `json:"path"`
	Annotated bool      `json:"annotated"`
	TouchedAt time.Time `json:"touchedAt"`
}

// Index lists the scores of a directory in annotation order.
type Index struct {
	Files []FileEntry `json:"files"`
}

// Local is a Bridge over a score directory and an annotations directory.
// It is safe for concurrent use.
type Local struct {
	mu     sync.Mutex
	dir    string
	outDir string
	index  Index
	now    func() time.Time
	log    *slog.Logger
}

// OpenLocal reads the index of scoreDir, building it from the directory
// contents when it does not exist yet.
func OpenLocal(scoreDir, annotationDir string, log *slog.Logger) (*Local, error) {
	dir, err := filepath.Abs(scoreDir)
	if err != nil {
		return nil, fmt.Errorf("resolve score directory: %w", err)
	}
	outDir, err := filepath.Abs(annotationDir)
	if err != nil {
		return nil, fmt.Errorf("resolve annotation directory: %w", err)
	}
	l := &Local{dir: dir, outDir: outDir, now: time.Now, log: logging.Module(log, "bridge")}

	data, err := os.ReadFile(filepath.Join(dir, IndexName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := l.scan(); err != nil {
			return nil, err
		}
		if err := l.writeIndex(); err != nil {
			return nil, err
		}
		l.log.Info("index created", "dir", dir, "files", len(l.index.Files))
	case err != nil:
		return nil, fmt.Errorf("read index: %w", err)
	default:
		if err := json.Unmarshal(data, &l.index); err != nil {
			return nil, fmt.Errorf("parse index: %w", err)
		}
	}
	return l, nil
}

func (l *Local) scan() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("scan score directory: %w", err)
	}
	var files []FileEntry
	for _, e := range entries {
		if e.IsDir() || !isScore(e.Name()) {
			continue
		}
		files = append(files, FileEntry{Path: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	l.index.Files = files
	return nil
}

func isScore(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ScoreExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (l *Local) writeIndex() error {
	return writeJSON(filepath.Join(l.dir, IndexName), l.index)
}

// writeJSON writes v with four-space indentation through a temp file so a
// crash never leaves a truncated file behind.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (l *Local) id(e FileEntry) string {
	return filepath.Join(l.dir, e.Path)
}

// find returns the index position of a score id. Callers hold mu.
func (l *Local) find(scoreID string) int {
	abs, err := filepath.Abs(scoreID)
	if err != nil {
		return -1
	}
	for i, e := range l.index.Files {
		if l.id(e) == abs {
			return i
		}
	}
	return -1
}

// Files returns a copy of the index.
func (l *Local) Files() []FileEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FileEntry(nil), l.index.Files...)
}

// Dir returns the score directory.
func (l *Local) Dir() string {
	return l.dir
}

// AnnotationPath returns where the annotations of a score are written.
func (l *Local) AnnotationPath(scoreID string) string {
	stem := strings.TrimSuffix(filepath.Base(scoreID), filepath.Ext(scoreID))
	return filepath.Join(l.outDir, stem+".json")
}

// PickLastAnnotated returns the most recently touched score, or the first
// score when none was touched.
func (l *Local) PickLastAnnotated() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.index.Files) == 0 {
		return "", ErrNoFiles
	}
	best := 0
	for i, e := range l.index.Files {
		if e.TouchedAt.After(l.index.Files[best].TouchedAt) {
			best = i
		}
	}
	return l.id(l.index.Files[best]), nil
}

// PickNextFile returns the score after current, or current itself at the
// end of the index.
func (l *Local) PickNextFile(current string) (string, error) {
	return l.step(current, 1)
}

// PickPreviousFile returns the score before current, or current itself at
// the start of the index.
func (l *Local) PickPreviousFile(current string) (string, error) {
	return l.step(current, -1)
}

func (l *Local) step(current string, delta int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.find(current)
	if i < 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownFile, current)
	}
	i = max(0, min(i+delta, len(l.index.Files)-1))
	return l.id(l.index.Files[i]), nil
}

// FirstFile returns the first score of the index.
func (l *Local) FirstFile() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.index.Files) == 0 {
		return "", ErrNoFiles
	}
	return l.id(l.index.Files[0]), nil
}

// LastFile returns the last score of the index.
func (l *Local) LastFile() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.index.Files) == 0 {
		return "", ErrNoFiles
	}
	return l.id(l.index.Files[len(l.index.Files)-1]), nil
}

// SaveToJSON writes payload to the score's annotation file and marks the
// score as touched. Scores outside the index are saved but not tracked.
func (l *Local) SaveToJSON(scoreID string, payload any) error {
	path := l.AnnotationPath(scoreID)
	if err := writeJSON(path, payload); err != nil {
		return fmt.Errorf("save annotations of %s: %w", filepath.Base(scoreID), err)
	}
	l.log.Info("annotations saved", "score", scoreID, "path", path)

	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.find(scoreID); i >= 0 {
		l.index.Files[i].TouchedAt = l.now().UTC()
		return l.writeIndex()
	}
	return nil
}

// MarkAnnotated records whether a score is fully annotated.
func (l *Local) MarkAnnotated(scoreID string, complete bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.find(scoreID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownFile, scoreID)
	}
	l.index.Files[i].Annotated = complete
	l.index.Files[i].TouchedAt = l.now().UTC()
	l.log.Info("annotation status changed", "score", scoreID, "complete", complete)
	return l.writeIndex()
}
