// Package storage keeps an append-only audit trail of what the bot did:
// greetings, announcements, handled commands and failed tasks.
//
// Backends:
//   - sqlite (modernc.org/sqlite, no cgo)
//   - memory (tests and throwaway runs)
package storage
