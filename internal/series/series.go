// Package series implements the `<series_uid>#...` filename convention and
// the directory-state marker protocol shared by the router, dispatcher, and
// cleaner (spec.md §3).
package series

import (
	"os"
	"path/filepath"
	"strings"
)

// UIDNotFound is the sentinel UID reported when a directory contains no
// file with a '#' delimiter (spec.md §3 invariants; §8 scenario 6).
const UIDNotFound = "series_uid-not-found"

// Marker file names (spec.md §3).
const (
	MarkerLock    = ".lock"
	MarkerSending = ".sending"
	MarkerError   = ".error"
	SentReport    = "sent.txt"
	TargetFile    = "target.json"
)

// UIDFromFilename returns the series UID prefix of name — the substring
// before the first '#' — or ok=false if name carries no '#' delimiter.
func UIDFromFilename(name string) (uid string, ok bool) {
	idx := strings.IndexByte(name, '#')
	if idx < 0 {
		return "", false
	}
	return name[:idx], true
}

// UIDFromDir derives a series UID by inspecting filenames within dir,
// returning the prefix before the first '#' found, or UIDNotFound if no
// such file exists (spec.md §3 invariants: "if no `#` file exists, the UID
// is reported as a sentinel string").
func UIDFromDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return UIDNotFound
	}
	for _, e := range entries {
		if uid, ok := UIDFromFilename(e.Name()); ok {
			return uid
		}
	}
	return UIDNotFound
}

// HasMarker reports whether the given marker file exists in dir.
func HasMarker(dir, marker string) bool {
	_, err := os.Stat(filepath.Join(dir, marker))
	return err == nil
}

// CreateExclusive atomically creates an empty marker file, failing if it
// already exists. This is the claim primitive behind `.sending` and `.lock`
// (spec.md §9: "atomic exclusive-create syscalls... equivalent to
// O_CREAT|O_EXCL; anything weaker re-introduces the race").
func CreateExclusive(dir, marker string) error {
	f, err := os.OpenFile(filepath.Join(dir, marker), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// RemoveMarker deletes a marker file. Removing an already-absent marker is
// not an error.
func RemoveMarker(dir, marker string) error {
	err := os.Remove(filepath.Join(dir, marker))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FilesWithPrefix returns the basenames of all entries in dir whose name
// begins with the given "<uid>#" prefix.
func FilesWithPrefix(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			matched = append(matched, e.Name())
		}
	}
	return matched, nil
}

// CountGlob counts entries in dir whose name matches the given glob pattern
// (e.g. "*.dcm"), ignoring directories.
func CountGlob(dir, pattern string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			count++
		}
	}
	return count
}
