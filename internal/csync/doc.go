// Package csync holds small concurrency-safe containers shared by the
// download manager and the filesystem watcher.
package csync
