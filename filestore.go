package filestore

import "context"

// FileStore is the backend-independent entry point. It validates every
// request against the shape of path the operation requires and then
// delegates to the wrapped backend, so variants never see a file
// operation with a directory path or vice versa.
type FileStore struct {
	backend Backend
}

// New wraps backend in a FileStore. Variant packages call this from
// their connect functions; it is exported so custom backends can be
// plugged in the same way.
func New(backend Backend) *FileStore {
	return &FileStore{backend: backend}
}

// BackendType identifies the wrapped backend variant.
func (f *FileStore) BackendType() BackendType {
	return f.backend.BackendType()
}

// checkFilePath ensures path addresses a single file.
func checkFilePath(path ObjectPath) error {
	if path.IsEmpty() || path.IsDirPrefix() {
		return NewInvalidPath(path, "this operation requires the path to a file")
	}

	return nil
}

// checkDirPath ensures path addresses a directory. The empty path
// addresses the root and is always acceptable.
func checkDirPath(path ObjectPath) error {
	if path.IsEmpty() || path.IsDirPrefix() {
		return nil
	}

	return NewInvalidPath(path, "this operation requires the path to a directory")
}

// ListObjects streams every object whose path starts with prefix. Any
// path shape is a valid prefix, including a partial file name.
func (f *FileStore) ListObjects(ctx context.Context, prefix ObjectPath) (ObjectStream, error) {
	return f.backend.ListObjects(ctx, prefix)
}

// ListDirectory streams the direct children of dir without recursing.
func (f *FileStore) ListDirectory(ctx context.Context, dir ObjectPath) (ObjectStream, error) {
	if err := checkDirPath(dir); err != nil {
		return nil, err
	}

	return f.backend.ListDirectory(ctx, dir)
}

// GetObject fetches the metadata snapshot of the file at path.
func (f *FileStore) GetObject(ctx context.Context, path ObjectPath) (Object, error) {
	if err := checkFilePath(path); err != nil {
		return Object{}, err
	}

	return f.backend.GetObject(ctx, path)
}

// GetFileStream opens the file addressed by ref for sequential reading.
func (f *FileStore) GetFileStream(ctx context.Context, ref ObjectReference) (DataStream, error) {
	path, err := ref.StoragePath()
	if err != nil {
		return nil, err
	}

	if err := checkFilePath(path); err != nil {
		return nil, err
	}

	return f.backend.GetFileStream(ctx, ref)
}

// DeleteObject removes the entry addressed by ref. Deleting a directory
// removes its contents first.
func (f *FileStore) DeleteObject(ctx context.Context, ref ObjectReference) error {
	path, err := ref.StoragePath()
	if err != nil {
		return err
	}

	if path.IsEmpty() {
		return NewInvalidPath(path, "cannot delete the storage root")
	}

	return f.backend.DeleteObject(ctx, ref)
}

// WriteFileFromStream replaces whatever exists at path with the
// concatenated chunks of stream. The returned error is a TransferError
// attributing the failure to the data source or the storage target;
// path validation counts against the target.
func (f *FileStore) WriteFileFromStream(ctx context.Context, path ObjectPath, stream Stream[[]byte]) error {
	if err := checkFilePath(path); err != nil {
		return NewTargetError(err)
	}

	return f.backend.WriteFileFromStream(ctx, path, stream)
}

// CopyFile copies the file addressed by src to dest by streaming it
// through memory one chunk at a time. src and dest may live on the same
// backend or different ones; pair two FileStores manually for the
// latter.
func (f *FileStore) CopyFile(ctx context.Context, src ObjectReference, dest ObjectPath) error {
	stream, err := f.GetFileStream(ctx, src)
	if err != nil {
		return NewSourceError(err)
	}
	defer func() { _ = stream.Close() }()

	return f.WriteFileFromStream(ctx, dest, stream)
}

// MoveFile copies the file addressed by src to dest and deletes the
// source once the copy succeeded.
func (f *FileStore) MoveFile(ctx context.Context, src ObjectReference, dest ObjectPath) error {
	if err := f.CopyFile(ctx, src, dest); err != nil {
		return err
	}

	return f.DeleteObject(ctx, src)
}
