// Package tokenstore holds authmgr.Store implementations that need no
// external service: an in-memory map and a wrapper that encrypts token
// values before they reach another store. The durable SQLite store lives
// in the sqlite subpackage.
package tokenstore
