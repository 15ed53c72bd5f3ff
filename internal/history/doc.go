// Package history persists classification events in a local SQLite table.
//
// Every operation runs in its own transaction. Records are immutable once
// inserted: there is no update, only insert, list, get and delete-by-id. The
// imagePath column is a weak reference into the image archive; the store never
// checks that the file still exists.
package history
