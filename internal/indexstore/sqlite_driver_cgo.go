//go:build sqlite_cgo

package indexstore

import (
	_ "github.com/mattn/go-sqlite3" // CGO SQLite driver
)

const sqlDriverName = "sqlite3"
