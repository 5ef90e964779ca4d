// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "marketflows/internal/storage/mssql"
	_ "marketflows/internal/storage/postgres"
	_ "marketflows/internal/storage/sqlite"
)
