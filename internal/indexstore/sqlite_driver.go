//go:build !sqlite_cgo

package indexstore

import (
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// sqlDriverName selects the registered database/sql driver. The default
// build uses the pure-Go driver for portable binaries; the sqlite_cgo build
// tag swaps in the CGO driver.
const sqlDriverName = "sqlite"
