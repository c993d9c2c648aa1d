// Package relica provides repository implementations using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// This package provides the SQL implementation of chatrelay.MessageRepository for
// MySQL, PostgreSQL and SQLite. Tables are created with chatrelay.ApplyMigrations.
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/chatrelay"
//	    "github.com/coregx/chatrelay/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	// Open database connection
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/chat?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := chatrelay.ApplyMigrations(ctx, db, "mysql"); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create repositories (driverName should be "mysql", "postgres", or "sqlite3")
//	repos := relica.NewRepositories(db, "mysql")
//
//	store, err := chatrelay.NewMessageStore(
//	    chatrelay.WithMessageRepository(repos.Message),
//	    chatrelay.WithMessageStoreLogger(logger),
//	)
package relica
