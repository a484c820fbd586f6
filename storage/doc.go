// Package storage persists the ledger chain in LevelDB.
//
// Blocks are stored as JSON under a table prefixed key holding the big endian
// block index, and the chain height is kept under its own key. Whole chain
// replacements are written in a single batch so that a crash never leaves a
// mix of the old and new chains on disk.
package storage
