package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvDataPath holds extra data directories, separated by os.PathListSeparator.
const EnvDataPath = "KING_PHISHER_DATA_PATH"

// Data kinds, used as the last path element of the default directories.
const (
	DataKindServer = "server"
	DataKindClient = "client"
)

// ErrDataFileNotFound is returned when no data directory holds the file.
var ErrDataFileNotFound = errors.New("data file not found")

// DataPath is an ordered list of directories searched for data files such as
// the verification schema or the client UI definition.
type DataPath struct {
	dirs []string
}

// NewDataPath builds the search path for a data kind. Directories given in
// first are searched first, followed by $KING_PHISHER_DATA_PATH, the data
// directory next to the executable and the system-wide install locations.
func NewDataPath(kind string, first ...string) *DataPath {
	d := &DataPath{}
	for _, dir := range first {
		d.Append(dir)
	}
	for _, dir := range filepath.SplitList(os.Getenv(EnvDataPath)) {
		d.Append(dir)
	}
	if exe, err := os.Executable(); err == nil {
		d.Append(filepath.Join(filepath.Dir(exe), "data", kind))
	}
	d.Append(filepath.Join("/usr/share/king-phisher", kind))
	d.Append(filepath.Join("/usr/local/share/king-phisher", kind))
	return d
}

// Append adds dir to the end of the search path. Empty and duplicate entries
// are ignored.
func (d *DataPath) Append(dir string) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return
	}
	dir = filepath.Clean(dir)
	for _, existing := range d.dirs {
		if existing == dir {
			return
		}
	}
	d.dirs = append(d.dirs, dir)
}

// Prepend adds dir to the front of the search path.
func (d *DataPath) Prepend(dir string) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return
	}
	dir = filepath.Clean(dir)
	kept := []string{dir}
	for _, existing := range d.dirs {
		if existing != dir {
			kept = append(kept, existing)
		}
	}
	d.dirs = kept
}

// Dirs returns a copy of the search path.
func (d *DataPath) Dirs() []string {
	return append([]string(nil), d.dirs...)
}

// Find returns the first regular, readable file called name on the path.
func (d *DataPath) Find(name string) (string, error) {
	for _, dir := range d.dirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		f, err := os.Open(candidate)
		if err != nil {
			continue
		}
		_ = f.Close()
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %s (searched %s)", ErrDataFileNotFound, name, strings.Join(d.dirs, string(os.PathListSeparator)))
}
