// Package filestore provides a backend-independent API for listing,
// reading, writing and deleting objects in a storage system.
//
// Objects are addressed by ObjectPath, a backend-neutral path of
// segments, and every operation reports errors from one taxonomy
// (StorageError) regardless of the backend in use.
//
// # Built-in Backends
//
//   - LocalBackend: a directory on the local file system (afero-backed)
//   - b2.Backend: Backblaze B2 via its native HTTP API
//   - s3.Backend: Amazon S3 and S3-compatible services
//
// # Custom Backends
//
// Implement the Backend interface and wrap it with New to plug in a
// custom storage system:
//
//	store := filestore.New(myBackend)
//	stream, err := store.ListObjects(ctx, prefix)
//
// Listing operations return lazy pull streams, reads return a
// DataStream of owned chunks and writes consume any Stream of byte
// chunks, so large files never have to fit in memory.
package filestore
