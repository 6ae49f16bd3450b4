// Package database handles relational store connections.
//
// It wraps GORM to configure MySQL connections (pooling, timeouts, ping on
// connect) from the application's configuration. A sqlite driver branch
// exists so tests and local development can run against an in-memory
// database with the same code path.
//
// Schema lifecycle (migrations) is owned externally; this package never
// migrates in the MySQL path.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
package database
