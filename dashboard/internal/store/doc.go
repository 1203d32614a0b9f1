// Package store memoizes loaded feature tables. Entries are keyed by source
// id and reused while the file's path, modification time and size are
// unchanged, with idle-TTL eviction and an fsnotify watcher that invalidates
// entries when their data file changes.
package store
