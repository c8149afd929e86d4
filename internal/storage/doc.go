// Package storage keeps an optional journal of relayed posts.
//
// The journal is write-mostly and used for auditing what was delivered (and
// what failed). It is not read back to restore cursors on startup.
package storage
