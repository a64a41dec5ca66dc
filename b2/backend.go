// Package b2 implements a filestore backend for Backblaze B2 using the
// native B2 HTTP API.
//
// The first segment of a path names the bucket; the rest is the file
// name within it. Writing into a bucket that does not exist yet creates
// the bucket, while writing directly at the bucket level fails. A
// deleted file loses all of its versions.
package b2

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/hupe1980/filestore"
)

// DefaultMaxConnections is the default cap on concurrent HTTP requests.
const DefaultMaxConnections = 10

// Backend stores objects in Backblaze B2 buckets.
type Backend struct {
	client *client
	prefix filestore.ObjectPath
	logger *filestore.Logger
}

// Connect creates a FileStore over a B2 account using default settings.
// The root of all paths is the account level, so the first path segment
// selects the bucket.
func Connect(ctx context.Context, keyID, key string) (*filestore.FileStore, error) {
	return NewBuilder(keyID, key).Connect(ctx)
}

// Builder assembles a B2 backend with custom settings.
type Builder struct {
	settings settings
}

// NewBuilder starts a builder from an application key pair. The key may
// be the account master key or a restricted application key.
func NewBuilder(keyID, key string) *Builder {
	return &Builder{
		settings: settings{
			keyID:             keyID,
			key:               key,
			host:              DefaultAPIHost,
			retries:           DefaultAPIRetries,
			maxConnections:    DefaultMaxConnections,
			initialBufferSize: filestore.DefaultInitialBufferSize,
			minimumBufferSize: filestore.DefaultMinimumBufferSize,
			logger:            filestore.NoopLogger(),
		},
	}
}

// WithHost overrides the authorize endpoint. Generally only useful for
// pointing the backend at a test double.
func (b *Builder) WithHost(host string) *Builder {
	b.settings.host = strings.TrimSuffix(host, "/")
	return b
}

// WithPrefix roots all paths under prefix, which may be a bucket name
// or a bucket followed by directory parts inside it.
func (b *Builder) WithPrefix(prefix filestore.ObjectPath) *Builder {
	b.settings.prefix = prefix
	return b
}

// WithAPIRetries sets the total attempt budget for calls that fail with
// an expired session token.
func (b *Builder) WithAPIRetries(retries int) *Builder {
	if retries > 0 {
		b.settings.retries = retries
	}

	return b
}

// WithMaxConnections caps the number of concurrent HTTP requests.
func (b *Builder) WithMaxConnections(n int64) *Builder {
	b.settings.maxConnections = n
	return b
}

// WithLogger configures structured logging.
func (b *Builder) WithLogger(logger *filestore.Logger) *Builder {
	if logger != nil {
		b.settings.logger = logger
	}

	return b
}

// WithBufferSizes configures the read stream buffer geometry.
func (b *Builder) WithBufferSizes(initial, minimum int) *Builder {
	b.settings.initialBufferSize = initial
	b.settings.minimumBufferSize = minimum

	return b
}

// Connect authorizes against the service and returns the FileStore. A
// failed authorization surfaces here rather than on first use.
func (b *Builder) Connect(ctx context.Context) (*filestore.FileStore, error) {
	b.settings.logger = b.settings.logger.WithBackend(filestore.BackendB2)

	c := newClient(b.settings)

	if _, err := c.session(ctx); err != nil {
		return nil, err
	}

	backend := &Backend{
		client: c,
		prefix: b.settings.prefix,
		logger: b.settings.logger,
	}

	return filestore.New(backend), nil
}

// BackendType implements filestore.Backend.
func (b *Backend) BackendType() filestore.BackendType {
	return filestore.BackendB2
}

// fileHandle is the backend-private handle attached to objects. It
// carries the coordinates needed to re-address the entry without
// another bucket lookup.
type fileHandle struct {
	bucketID   string
	bucketName string
	fileID     string
	fileName   string
}

func (*fileHandle) BackendType() filestore.BackendType {
	return filestore.BackendB2
}

// newObject converts one file listing entry into an Object addressed
// relative to the backend prefix.
func newObject(bkt bucket, info fileInfo, backendPrefix filestore.ObjectPath) (filestore.Object, error) {
	isDir := info.Action == "folder" || strings.HasSuffix(info.FileName, "/")

	path, err := filestore.NewObjectPath(strings.TrimSuffix(info.FileName, "/"))
	if err != nil {
		return filestore.Object{}, err
	}

	path = path.UnshiftPart(bkt.BucketName)

	for range backendPrefix.Parts() {
		_, path = path.ShiftPart()
	}

	obj := filestore.Object{
		Path: path,
		Type: filestore.ObjectFile,
		Size: info.ContentLength,
		Internals: &fileHandle{
			bucketID:   bkt.BucketID,
			bucketName: bkt.BucketName,
			fileID:     info.FileID,
			fileName:   info.FileName,
		},
	}

	if isDir {
		obj.Type = filestore.ObjectDirectory
		obj.Size = 0
	}

	return obj, nil
}

// lookupBucket resolves a bucket by its exact name.
func (b *Backend) lookupBucket(ctx context.Context, name string, path filestore.ObjectPath) (bucket, error) {
	accountID, err := b.client.accountID(ctx)
	if err != nil {
		return bucket{}, err
	}

	response, err := b.client.listBuckets(ctx, path, listBucketsRequest{
		AccountID:  accountID,
		BucketName: name,
	})
	if err != nil {
		return bucket{}, err
	}

	for _, bkt := range response.Buckets {
		if bkt.BucketName == name {
			return bkt, nil
		}
	}

	return bucket{}, filestore.NewNotFound(path, nil)
}

// ListObjects implements filestore.Backend. Buckets whose names start
// with the first prefix segment are each listed through their own
// paginated stream; the streams are merged so results interleave while
// only one page per bucket is held in memory.
func (b *Backend) ListObjects(ctx context.Context, prefix filestore.ObjectPath) (filestore.ObjectStream, error) {
	full := b.prefix.Join(prefix)
	bucketPart, rest := full.ShiftPart()

	accountID, err := b.client.accountID(ctx)
	if err != nil {
		return nil, err
	}

	request := listBucketsRequest{AccountID: accountID}
	if !rest.IsEmpty() || full.IsDirPrefix() {
		// The bucket name is complete, so ask for it alone.
		request.BucketName = bucketPart
	}

	response, err := b.client.listBuckets(ctx, prefix, request)
	if err != nil {
		return nil, err
	}

	// The backend prefix must match on a segment boundary; without the
	// trailing separator a sibling like "scopedother" would slip into a
	// store rooted at "scoped".
	filePrefix := rest.String()
	if prefix.IsEmpty() && !rest.IsEmpty() {
		filePrefix = rest.AsDir().String()
	}

	merged := filestore.NewMergedStreams[filestore.Object]()

	for _, bkt := range response.Buckets {
		bkt := bkt // capture per iteration; required while go.mod declares go < 1.22

		if !strings.HasPrefix(bkt.BucketName, bucketPart) {
			continue
		}

		names := newListFileNamesStream(b.client, prefix, listFileNamesRequest{
			BucketID: bkt.BucketID,
			Prefix:   filePrefix,
		})

		merged.Push(filestore.MapStream[fileInfo, filestore.Object](names, func(info fileInfo) (filestore.Object, error) {
			return newObject(bkt, info, b.prefix)
		}))
	}

	return merged, nil
}

// ListDirectory implements filestore.Backend. The account root lists
// buckets as directories; inside a bucket the service's delimiter
// support collapses deeper entries into folder results.
func (b *Backend) ListDirectory(ctx context.Context, dir filestore.ObjectPath) (filestore.ObjectStream, error) {
	full := b.prefix.Join(dir)

	if full.IsEmpty() {
		return b.listBucketsAsDirectories(ctx, dir)
	}

	bucketPart, rest := full.ShiftPart()

	bkt, err := b.lookupBucket(ctx, bucketPart, dir)
	if err != nil {
		return nil, err
	}

	request := listFileNamesRequest{
		BucketID:  bkt.BucketID,
		Delimiter: "/",
	}

	if !rest.IsEmpty() {
		request.Prefix = rest.AsDir().String()
	}

	names := newListFileNamesStream(b.client, dir, request)

	return filestore.MapStream[fileInfo, filestore.Object](names, func(info fileInfo) (filestore.Object, error) {
		return newObject(bkt, info, b.prefix)
	}), nil
}

func (b *Backend) listBucketsAsDirectories(ctx context.Context, dir filestore.ObjectPath) (filestore.ObjectStream, error) {
	accountID, err := b.client.accountID(ctx)
	if err != nil {
		return nil, err
	}

	response, err := b.client.listBuckets(ctx, dir, listBucketsRequest{AccountID: accountID})
	if err != nil {
		return nil, err
	}

	objects := make([]filestore.Object, 0, len(response.Buckets))

	for _, bkt := range response.Buckets {
		path, perr := filestore.NewObjectPath(bkt.BucketName)
		if perr != nil {
			return nil, perr
		}

		objects = append(objects, filestore.Object{
			Path: path,
			Type: filestore.ObjectDirectory,
			Internals: &fileHandle{
				bucketID:   bkt.BucketID,
				bucketName: bkt.BucketName,
			},
		})
	}

	return filestore.StreamOf(objects...), nil
}

// GetObject implements filestore.Backend. B2 has no folder entries, so
// the lookup probes the sorted listing: an exact name match is a file
// and a child under "name/" proves a directory.
func (b *Backend) GetObject(ctx context.Context, path filestore.ObjectPath) (filestore.Object, error) {
	full := b.prefix.Join(path)
	bucketPart, rest := full.ShiftPart()

	bkt, err := b.lookupBucket(ctx, bucketPart, path)
	if err != nil {
		return filestore.Object{}, err
	}

	if rest.IsEmpty() {
		return filestore.Object{
			Path:      path,
			Type:      filestore.ObjectDirectory,
			Internals: &fileHandle{bucketID: bkt.BucketID, bucketName: bkt.BucketName},
		}, nil
	}

	name := rest.String()

	response, err := b.client.listFileNames(ctx, path, listFileNamesRequest{
		BucketID:     bkt.BucketID,
		Prefix:       name,
		MaxFileCount: 1,
	})
	if err != nil {
		return filestore.Object{}, err
	}

	if len(response.Files) > 0 {
		first := response.Files[0]

		if first.FileName == name {
			return newObject(bkt, first, b.prefix)
		}

		if strings.HasPrefix(first.FileName, name+"/") {
			return b.directoryObject(bkt, path, name), nil
		}
	}

	// A sibling sorting between the name and its children (for example
	// "name!x" before "name/") can shadow the first probe, so ask for
	// the children explicitly before concluding the entry is absent.
	children, err := b.client.listFileNames(ctx, path, listFileNamesRequest{
		BucketID:     bkt.BucketID,
		Prefix:       name + "/",
		MaxFileCount: 1,
	})
	if err != nil {
		return filestore.Object{}, err
	}

	if len(children.Files) > 0 {
		return b.directoryObject(bkt, path, name), nil
	}

	return filestore.Object{}, filestore.NewNotFound(path, nil)
}

func (b *Backend) directoryObject(bkt bucket, path filestore.ObjectPath, name string) filestore.Object {
	return filestore.Object{
		Path: path,
		Type: filestore.ObjectDirectory,
		Internals: &fileHandle{
			bucketID:   bkt.BucketID,
			bucketName: bkt.BucketName,
			fileName:   name + "/",
		},
	}
}

// GetFileStream implements filestore.Backend. A reference that already
// carries a handle skips the metadata probe.
func (b *Backend) GetFileStream(ctx context.Context, ref filestore.ObjectReference) (filestore.DataStream, error) {
	path, err := ref.StoragePath()
	if err != nil {
		return nil, err
	}

	handle, err := b.resolveFileHandle(ctx, ref, path)
	if err != nil {
		return nil, err
	}

	body, err := b.client.download(ctx, handle.bucketName, handle.fileName, path)
	if err != nil {
		return nil, err
	}

	return filestore.NewReaderStream(body, func(o *filestore.ReaderStreamOptions) {
		o.InitialBufferSize = b.client.settings.initialBufferSize
		o.MinimumBufferSize = b.client.settings.minimumBufferSize
		o.Translate = translateTransportError
	}), nil
}

func (b *Backend) resolveFileHandle(ctx context.Context, ref filestore.ObjectReference, path filestore.ObjectPath) (*fileHandle, error) {
	if obj, ok := ref.(filestore.Object); ok {
		if handle, ok := obj.Internals.(*fileHandle); ok {
			if !obj.IsFile() {
				return nil, filestore.NewNotFound(path, nil)
			}

			return handle, nil
		}
	}

	obj, err := b.GetObject(ctx, path)
	if err != nil {
		return nil, err
	}

	if !obj.IsFile() {
		return nil, filestore.NewNotFound(path, nil)
	}

	handle, ok := obj.Internals.(*fileHandle)
	if !ok {
		return nil, filestore.NewInternalError("the object carries no usable handle", nil)
	}

	return handle, nil
}

// DeleteObject implements filestore.Backend. Every version of the file
// is removed; deleting a directory path sweeps everything beneath it,
// folder placeholders included.
func (b *Backend) DeleteObject(ctx context.Context, ref filestore.ObjectReference) error {
	path, err := ref.StoragePath()
	if err != nil {
		return err
	}

	full := b.prefix.Join(path)
	bucketPart, rest := full.ShiftPart()

	if rest.IsEmpty() {
		err = filestore.NewNotSupported("deleting a bucket is not supported")
		b.logger.LogDelete(ctx, path, err)

		return err
	}

	bkt, err := b.lookupBucket(ctx, bucketPart, path)
	if err != nil {
		b.logger.LogDelete(ctx, path, err)
		return err
	}

	name := strings.TrimSuffix(rest.String(), "/")

	removed, err := b.sweepVersions(ctx, bkt, name, path)
	if err != nil {
		b.logger.LogDelete(ctx, path, err)
		return err
	}

	if removed == 0 {
		err = filestore.NewNotFound(path, nil)
		b.logger.LogDelete(ctx, path, err)

		return err
	}

	b.logger.LogDelete(ctx, path, nil)

	return nil
}

// sweepVersions removes every version of name and of everything beneath
// it, reporting how many versions were removed.
func (b *Backend) sweepVersions(ctx context.Context, bkt bucket, name string, path filestore.ObjectPath) (int, error) {
	versions := newListFileVersionsStream(b.client, path, listFileVersionsRequest{
		BucketID: bkt.BucketID,
		Prefix:   name,
	})

	matches, err := filestore.CollectStream[fileInfo](ctx, filterVersions(versions, name))
	if err != nil {
		return 0, err
	}

	for _, version := range matches {
		if _, derr := b.client.deleteFileVersion(ctx, path, deleteFileVersionRequest{
			FileName: version.FileName,
			FileID:   version.FileID,
		}); derr != nil {
			return 0, derr
		}
	}

	return len(matches), nil
}

// filterVersions keeps only versions naming the target itself or an
// entry beneath it, dropping unrelated names that merely share the
// string prefix.
func filterVersions(versions filestore.Stream[fileInfo], name string) filestore.Stream[fileInfo] {
	return filestore.StreamFunc[fileInfo](func(ctx context.Context) (fileInfo, error) {
		for {
			info, err := versions.Next(ctx)
			if err != nil {
				return fileInfo{}, err
			}

			if info.FileName == name || info.FileName == name+"/" || strings.HasPrefix(info.FileName, name+"/") {
				return info, nil
			}
		}
	})
}

// WriteFileFromStream implements filestore.Backend. The stream is
// buffered in memory because the single-call upload requires the
// content length and SHA1 up front. Writing into a missing bucket
// creates the bucket first.
func (b *Backend) WriteFileFromStream(ctx context.Context, path filestore.ObjectPath, stream filestore.Stream[[]byte]) error {
	full := b.prefix.Join(path)
	bucketPart, rest := full.ShiftPart()

	if rest.IsEmpty() {
		return filestore.NewTargetError(filestore.NewInvalidPath(path, "cannot write directly at the bucket level"))
	}

	var buf bytes.Buffer

	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return filestore.NewSourceError(err)
		}

		buf.Write(chunk)
	}

	bkt, err := b.lookupBucket(ctx, bucketPart, path)

	switch {
	case filestore.IsKind(err, filestore.KindNotFound):
		bkt, err = b.createBucket(ctx, bucketPart, path)
		if err != nil {
			return filestore.NewTargetError(err)
		}
	case err != nil:
		return filestore.NewTargetError(err)
	default:
		// Overwrite semantics: old versions of the target, and the
		// contents of a virtual directory occupying it, go away before
		// the upload.
		if _, serr := b.sweepVersions(ctx, bkt, rest.String(), path); serr != nil {
			return filestore.NewTargetError(serr)
		}
	}

	_, err = b.client.upload(ctx, bkt.BucketID, rest.String(), buf.Bytes(), path)
	b.logger.LogWrite(ctx, path, int64(buf.Len()), err)

	if err != nil {
		return filestore.NewTargetError(err)
	}

	return nil
}

func (b *Backend) createBucket(ctx context.Context, name string, path filestore.ObjectPath) (bucket, error) {
	accountID, err := b.client.accountID(ctx)
	if err != nil {
		return bucket{}, err
	}

	return b.client.createBucket(ctx, path, createBucketRequest{
		AccountID:  accountID,
		BucketName: name,
		BucketType: "allPrivate",
	})
}
