package migrate

import (
	"embed"
	"io/fs"
)

// EmbeddedDir is the goose directory inside the embedded filesystem.
const EmbeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// FS exposes the master registry migrations compiled into the binary.
func FS() fs.FS {
	return embedded
}
