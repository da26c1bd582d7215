// Package all registers every built-in storage backend. Import it for side
// effects:
//
//	import _ "charfreq/internal/storage/all"
//
// after which storage.New accepts the kinds "sqlite", "postgres" and "mssql".
package all

import (
	_ "charfreq/internal/storage/mssql"
	_ "charfreq/internal/storage/postgres"
	_ "charfreq/internal/storage/sqlite"
)
