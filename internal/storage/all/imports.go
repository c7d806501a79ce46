// Package all enables every built-in ledger backend. Import it for side
// effects:
//
//	import _ "audiencesync/internal/storage/all"
//
// after which storage.New accepts the kinds "postgres", "mssql", "mysql" and
// "sqlite". A binary that needs only a subset can import the backend packages
// individually instead.
package all

import (
	_ "audiencesync/internal/storage/mssql"
	_ "audiencesync/internal/storage/mysql"
	_ "audiencesync/internal/storage/postgres"
	_ "audiencesync/internal/storage/sqlite"
)
