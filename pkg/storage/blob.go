// Package storage implements the two convenience persistence layers
// the stack keeps over an external keyed blob store: the address-to-
// name map and the bounded stored-message ring. The protocol never
// requires this storage; it's purely for UI/operator convenience
// (node naming, message history). Each is saved as a header row
// followed by one row per record, rewriting the whole blob on every
// Save, and reloaded by re-reading from the start, against a BlobStore
// collaborator rather
// than a filesystem dependency directly.
package storage

import "io"

// BlobStore is the external keyed byte-blob collaborator:
// exists/open_read/open_write against named blobs. An implementation
// might back this with a filesystem, flash FS, or an in-memory map;
// the stack only ever asks for whole-blob read/write.
type BlobStore interface {
	Exists(name string) bool
	OpenRead(name string) (io.ReadCloser, error)
	OpenWrite(name string) (io.WriteCloser, error)
}
