package internal

import (
	// Register the database drivers the sql and riverqueue relay drivers can
	// be configured with.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
