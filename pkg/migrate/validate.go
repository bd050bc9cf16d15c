package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
)

// File is one parsed migration filename.
type File struct {
	Version  string
	Name     string
	Filename string
}

// ParseFilename splits `<YYYYMMDDHHMMSS>_<name>.sql` into its parts.
func ParseFilename(filename string) (File, bool) {
	m := sqlFileRe.FindStringSubmatch(filename)
	if m == nil {
		return File{}, false
	}
	return File{Version: m[1], Name: m[2], Filename: filename}, true
}

// ListFS returns the migrations in dir sorted by version, rejecting bad names and
// duplicate versions.
func ListFS(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{} // version -> filename
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		file, ok := ParseFilename(name)
		if !ok {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[file.Version]; ok {
			return nil, fmt.Errorf("duplicate migration version %s in %q and %q", file.Version, prev, name)
		}
		seen[file.Version] = name
		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ValidateFS validates goose migration filenames and Up/Down headers.
func ValidateFS(fsys fs.FS, dir string) error {
	files, err := ListFS(fsys, dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		b, err := fs.ReadFile(fsys, path.Join(dir, file.Filename))
		if err != nil {
			return fmt.Errorf("read file %q: %w", file.Filename, err)
		}

		txt := string(b)
		if !strings.Contains(txt, "-- +goose Up") {
			return fmt.Errorf("migration %q missing \"-- +goose Up\"", file.Filename)
		}
		if !strings.Contains(txt, "-- +goose Down") {
			return fmt.Errorf("migration %q missing \"-- +goose Down\"", file.Filename)
		}
	}
	return nil
}

// ValidateDir validates an on-disk goose directory.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir), ".")
}
