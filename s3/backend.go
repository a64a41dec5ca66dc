// Package s3 implements a filestore backend for Amazon S3 and
// S3-compatible services.
//
// Directories are virtual: a directory exists exactly while at least
// one key lives under its prefix. An optional root prefix scopes all
// paths to a subtree of the bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/filestore"
)

// Client is the subset of the S3 API the backend uses. *s3.Client
// satisfies it; tests substitute a mock.
type Client interface {
	manager.UploadAPIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Options configures the backend.
type Options struct {
	// Logger configures structured logging. Nil disables logging.
	Logger *filestore.Logger

	// InitialBufferSize is the read stream's fresh buffer capacity.
	InitialBufferSize int

	// MinimumBufferSize is the read stream's reallocation low-water
	// mark.
	MinimumBufferSize int
}

// Backend stores objects in one S3 bucket under an optional root
// prefix.
type Backend struct {
	client Client
	bucket string
	prefix string
	opts   Options
	logger *filestore.Logger
}

// New creates a FileStore over bucket using an existing client.
// rootPrefix scopes all paths; pass "" to use the whole bucket.
func New(client Client, bucket, rootPrefix string, optFns ...func(*Options)) *filestore.FileStore {
	opts := Options{
		Logger:            filestore.NoopLogger(),
		InitialBufferSize: filestore.DefaultInitialBufferSize,
		MinimumBufferSize: filestore.DefaultMinimumBufferSize,
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if opts.Logger == nil {
		opts.Logger = filestore.NoopLogger()
	}

	backend := &Backend{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(rootPrefix, "/"),
		opts:   opts,
		logger: opts.Logger.WithBackend(filestore.BackendS3),
	}

	return filestore.New(backend)
}

// Connect loads the default AWS configuration, verifies the bucket is
// reachable and returns the FileStore.
func Connect(ctx context.Context, bucket, rootPrefix string, optFns ...func(*Options)) (*filestore.FileStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, filestore.NewError(filestore.KindInvalidSettings, "unable to load the AWS configuration", err)
	}

	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, filestore.NewConnectionFailed(fmt.Sprintf("bucket %q is not reachable", bucket), err)
	}

	return New(client, bucket, rootPrefix, optFns...), nil
}

// BackendType implements filestore.Backend.
func (b *Backend) BackendType() filestore.BackendType {
	return filestore.BackendS3
}

type s3Handle struct {
	key string
}

func (*s3Handle) BackendType() filestore.BackendType {
	return filestore.BackendS3
}

// key maps a path onto its bucket key under the root prefix.
func (b *Backend) key(p filestore.ObjectPath) string {
	name := strings.Join(p.Parts(), "/")

	if b.prefix == "" {
		return name
	}

	if name == "" {
		return b.prefix
	}

	return b.prefix + "/" + name
}

// relativeKey strips the root prefix from key, requiring the separator
// boundary so sibling keys that merely share the prefix string do not
// pass as members of the root.
func (b *Backend) relativeKey(key string) (string, bool) {
	if b.prefix == "" {
		return key, true
	}

	if key == b.prefix || key == b.prefix+"/" {
		return "", true
	}

	return strings.CutPrefix(key, b.prefix+"/")
}

// keyToPath maps a bucket key back onto a path, stripping the root
// prefix the way it was applied.
func (b *Backend) keyToPath(key string) (filestore.ObjectPath, error) {
	rel, ok := b.relativeKey(key)
	if !ok {
		return filestore.ObjectPath{}, filestore.NewInvalidData(fmt.Sprintf("key %q is outside the root prefix", key), nil)
	}

	return filestore.NewObjectPath(strings.TrimSuffix(rel, "/"))
}

func (b *Backend) objectFromKey(key string, size int64) (filestore.Object, error) {
	path, err := b.keyToPath(key)
	if err != nil {
		return filestore.Object{}, err
	}

	obj := filestore.Object{
		Path:      path,
		Type:      filestore.ObjectFile,
		Size:      size,
		Internals: &s3Handle{key: key},
	}

	if strings.HasSuffix(key, "/") {
		obj.Type = filestore.ObjectDirectory
		obj.Size = 0
	}

	return obj, nil
}

func translateError(err error, path filestore.ObjectPath) error {
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return filestore.NewNotFound(path, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return filestore.NewError(filestore.KindCancelled, "the request was interrupted", err)
	}

	return filestore.NewPathError(filestore.KindOtherError, path, err.Error(), err)
}

// ListObjects implements filestore.Backend. Pages are fetched lazily as
// the stream is pulled.
func (b *Backend) ListObjects(_ context.Context, prefix filestore.ObjectPath) (filestore.ObjectStream, error) {
	// An empty path lists the whole root; without the trailing
	// separator the request would also match sibling keys that merely
	// share the prefix string.
	keyPrefix := b.key(prefix)
	if keyPrefix != "" && (prefix.IsEmpty() || prefix.IsDirPrefix()) {
		keyPrefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(keyPrefix),
	})

	return &listStream{backend: b, prefix: prefix, paginator: paginator}, nil
}

// ListDirectory implements filestore.Backend. The service's delimiter
// support turns deeper keys into common prefixes, which surface as
// directory objects.
func (b *Backend) ListDirectory(_ context.Context, dir filestore.ObjectPath) (filestore.ObjectStream, error) {
	keyPrefix := b.key(dir)
	if keyPrefix != "" {
		keyPrefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(keyPrefix),
		Delimiter: aws.String("/"),
	})

	return &dirStream{backend: b, dir: dir, self: keyPrefix, paginator: paginator}, nil
}

// GetObject implements filestore.Backend. A missing key is probed once
// more as a virtual directory before reporting not found.
func (b *Backend) GetObject(ctx context.Context, path filestore.ObjectPath) (filestore.Object, error) {
	key := b.key(path)

	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})

	if err == nil {
		return filestore.Object{
			Path:      path,
			Type:      filestore.ObjectFile,
			Size:      aws.ToInt64(head.ContentLength),
			Internals: &s3Handle{key: key},
		}, nil
	}

	terr := translateError(err, path)
	if !filestore.IsKind(terr, filestore.KindNotFound) {
		return filestore.Object{}, terr
	}

	listing, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return filestore.Object{}, translateError(err, path)
	}

	if len(listing.Contents) == 0 && len(listing.CommonPrefixes) == 0 {
		return filestore.Object{}, filestore.NewNotFound(path, nil)
	}

	return filestore.Object{
		Path:      path,
		Type:      filestore.ObjectDirectory,
		Internals: &s3Handle{key: key + "/"},
	}, nil
}

// GetFileStream implements filestore.Backend.
func (b *Backend) GetFileStream(ctx context.Context, ref filestore.ObjectReference) (filestore.DataStream, error) {
	path, err := ref.StoragePath()
	if err != nil {
		return nil, err
	}

	key := b.key(path)

	if obj, ok := ref.(filestore.Object); ok {
		if handle, ok := obj.Internals.(*s3Handle); ok {
			if !obj.IsFile() {
				return nil, filestore.NewNotFound(path, nil)
			}

			key = handle.key
		}
	}

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateError(err, path)
	}

	return filestore.NewReaderStream(resp.Body, func(o *filestore.ReaderStreamOptions) {
		o.InitialBufferSize = b.opts.InitialBufferSize
		o.MinimumBufferSize = b.opts.MinimumBufferSize
		o.Translate = func(err error) error { return translateError(err, path) }
	}), nil
}

// DeleteObject implements filestore.Backend. An exact key is removed
// directly; otherwise everything under the virtual directory is swept
// in batches.
func (b *Backend) DeleteObject(ctx context.Context, ref filestore.ObjectReference) error {
	path, err := ref.StoragePath()
	if err != nil {
		return err
	}

	err = b.deleteObject(ctx, path)
	b.logger.LogDelete(ctx, path, err)

	return err
}

func (b *Backend) deleteObject(ctx context.Context, path filestore.ObjectPath) error {
	key := b.key(path)

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})

	if err == nil {
		_, derr := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})

		return translateError(derr, path)
	}

	if terr := translateError(err, path); !filestore.IsKind(terr, filestore.KindNotFound) {
		return terr
	}

	return b.deletePrefix(ctx, path, key+"/")
}

func (b *Backend) deletePrefix(ctx context.Context, path filestore.ObjectPath, keyPrefix string) error {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(keyPrefix),
	})

	deleted := 0

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return translateError(err, path)
		}

		if len(page.Contents) == 0 {
			continue
		}

		identifiers := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			identifiers = append(identifiers, types.ObjectIdentifier{Key: obj.Key})
		}

		if _, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: identifiers},
		}); err != nil {
			return translateError(err, path)
		}

		deleted += len(identifiers)
	}

	if deleted == 0 {
		return filestore.NewNotFound(path, nil)
	}

	return nil
}

// WriteFileFromStream implements filestore.Backend. The upload manager
// splits large streams into multipart uploads without buffering the
// whole file.
func (b *Backend) WriteFileFromStream(ctx context.Context, path filestore.ObjectPath, stream filestore.Stream[[]byte]) error {
	// Overwrite semantics: a virtual directory occupying the target is
	// swept first. A plain key is replaced by the upload itself.
	if err := b.deletePrefix(ctx, path, b.key(path)+"/"); err != nil && !filestore.IsKind(err, filestore.KindNotFound) {
		return filestore.NewTargetError(err)
	}

	reader := &streamReader{ctx: ctx, stream: stream}
	uploader := manager.NewUploader(b.client)

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(path)),
		Body:   reader,
	})

	b.logger.LogWrite(ctx, path, reader.read, err)

	if err != nil {
		if reader.sourceErr != nil {
			return filestore.NewSourceError(reader.sourceErr)
		}

		return filestore.NewTargetError(translateError(err, path))
	}

	return nil
}
