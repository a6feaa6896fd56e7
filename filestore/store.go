// Package filestore is the external collaborator that persists uploaded
// toolpath programs on disk. Filenames are basenamed before touching the
// filesystem so an upload cannot escape the content directory, per §6's
// persistence contract.
package filestore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/benchcnc/cncrouter/gcode"
)

// FileInfo describes one stored toolpath file, the shape the list-files
// operator surface returns.
type FileInfo struct {
	Name  string    `json:"name"`
	Size  int64     `json:"size"`
	Mtime time.Time `json:"mtime"`
}

// extensions recognized as toolpath programs.
var extensions = map[string]bool{".gcode": true, ".nc": true}

// Store is a directory of toolpath files.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(filename string) string {
	return filepath.Join(s.root, filepath.Base(filename))
}

// Exists reports whether filename is present in the store.
func (s *Store) Exists(filename string) bool {
	_, err := os.Stat(s.path(filename))
	return err == nil
}

// List returns every stored .gcode/.nc file, sorted by name.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || !extensions[filepath.Ext(e.Name())] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), Mtime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save writes data under filename's basename, overwriting any existing
// file of the same name.
func (s *Store) Save(filename string, data []byte) (FileInfo, error) {
	target := s.path(filename)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return FileInfo{}, err
	}
	stat, err := os.Stat(target)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: filepath.Base(target), Size: stat.Size(), Mtime: stat.ModTime()}, nil
}

// Delete removes filename, returning an error if it does not exist (the
// operator surface maps this to a 404 per §6).
func (s *Store) Delete(filename string) error {
	if !s.Exists(filename) {
		return fmt.Errorf("file not found: %s", filename)
	}
	return os.Remove(s.path(filename))
}

// Preview parses filename into the §3 preview shape: segment list plus
// bounding box.
func (s *Store) Preview(filename string) (gcode.Preview, error) {
	return gcode.ParseFile(s.path(filename))
}

// LineCount returns the physical line count of filename, used by
// start_job to populate total_lines.
func (s *Store) LineCount(filename string) (int, error) {
	return gcode.LineCount(s.path(filename))
}

// ReadLines returns filename split into physical lines, matching
// LineCount's definition of a line exactly so the two never disagree.
func (s *Store) ReadLines(filename string) ([]string, error) {
	f, err := os.Open(s.path(filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
