// Package cache implements the named, versioned cache stores the offline
// proxy reads from and writes through to. A Storage holds one Cache per
// version tag; each Cache maps a GET request (method + absolute URL) to a
// buffered response snapshot. Backends: disk (temp file + rename, default),
// SQLite, Redis and an in-memory map for tests. Individual puts and deletes are
// atomic per key; nothing spans multiple keys.
package cache
