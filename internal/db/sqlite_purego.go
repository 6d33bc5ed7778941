//go:build purego_sqlite

package db

import (
	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"
