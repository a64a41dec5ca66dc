package filestore

import "context"

// Backend is the operation set every storage variant implements. All
// methods return errors from the storage taxonomy; backend-native
// failures are translated at this boundary and never escape raw.
//
// Backends are constructed through their variant packages and consumed
// through a FileStore, which validates paths before delegating.
type Backend interface {
	// BackendType identifies the variant.
	BackendType() BackendType

	// ListObjects streams every object whose path starts with prefix,
	// recursing into directories. Ordering across directories is
	// unspecified; the stream does work lazily as it is pulled.
	ListObjects(ctx context.Context, prefix ObjectPath) (ObjectStream, error)

	// ListDirectory streams the direct children of dir without
	// recursing.
	ListDirectory(ctx context.Context, dir ObjectPath) (ObjectStream, error)

	// GetObject fetches the metadata snapshot of the entry at path.
	GetObject(ctx context.Context, path ObjectPath) (Object, error)

	// GetFileStream opens the file addressed by ref for sequential
	// reading. The returned stream owns any underlying handle until it
	// terminates or is closed.
	GetFileStream(ctx context.Context, ref ObjectReference) (DataStream, error)

	// DeleteObject removes the entry addressed by ref. Deleting a
	// directory removes its contents first.
	DeleteObject(ctx context.Context, ref ObjectReference) error

	// WriteFileFromStream replaces whatever exists at path with the
	// concatenated chunks of stream. Failures are reported as
	// TransferErrors attributing the failing side.
	WriteFileFromStream(ctx context.Context, path ObjectPath, stream Stream[[]byte]) error
}
