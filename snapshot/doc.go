// Package snapshot captures and restores the resting orders of a book and
// publishes immutable depth views to concurrent readers.
//
// Capture runs on the book's owning goroutine. Everything it returns is a
// copy; readers never touch the live book.
package snapshot
