package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/filestore"
)

// listStream pulls recursive listing pages lazily and yields one object
// per key. Directory markers (keys ending in "/") surface as directory
// objects.
type listStream struct {
	backend   *Backend
	prefix    filestore.ObjectPath
	paginator *s3.ListObjectsV2Paginator
	page      []filestore.Object
}

func (s *listStream) Next(ctx context.Context) (filestore.Object, error) {
	for len(s.page) == 0 {
		if !s.paginator.HasMorePages() {
			return filestore.Object{}, io.EOF
		}

		page, err := s.paginator.NextPage(ctx)
		if err != nil {
			return filestore.Object{}, translateError(err, s.prefix)
		}

		for _, entry := range page.Contents {
			key := aws.ToString(entry.Key)
			if _, ok := s.backend.relativeKey(key); !ok {
				continue
			}

			obj, oerr := s.backend.objectFromKey(key, aws.ToInt64(entry.Size))
			if oerr != nil {
				return filestore.Object{}, oerr
			}

			// The key prefix is a plain string match; re-check against
			// the path's own prefix rules.
			if !obj.Path.StartsWith(s.prefix) {
				continue
			}

			s.page = append(s.page, obj)
		}
	}

	obj := s.page[0]
	s.page = s.page[1:]

	return obj, nil
}

// dirStream pulls one level of a delimiter listing lazily. Common
// prefixes become directory objects; the directory's own marker key is
// skipped.
type dirStream struct {
	backend   *Backend
	dir       filestore.ObjectPath
	self      string
	paginator *s3.ListObjectsV2Paginator
	page      []filestore.Object
}

func (s *dirStream) Next(ctx context.Context) (filestore.Object, error) {
	for len(s.page) == 0 {
		if !s.paginator.HasMorePages() {
			return filestore.Object{}, io.EOF
		}

		page, err := s.paginator.NextPage(ctx)
		if err != nil {
			return filestore.Object{}, translateError(err, s.dir)
		}

		for _, entry := range page.Contents {
			key := aws.ToString(entry.Key)
			if key == s.self {
				continue
			}

			if _, ok := s.backend.relativeKey(key); !ok {
				continue
			}

			obj, oerr := s.backend.objectFromKey(key, aws.ToInt64(entry.Size))
			if oerr != nil {
				return filestore.Object{}, oerr
			}

			s.page = append(s.page, obj)
		}

		for _, common := range page.CommonPrefixes {
			key := strings.TrimSuffix(aws.ToString(common.Prefix), "/")

			path, perr := s.backend.keyToPath(key)
			if perr != nil {
				return filestore.Object{}, perr
			}

			s.page = append(s.page, filestore.Object{
				Path:      path,
				Type:      filestore.ObjectDirectory,
				Internals: &s3Handle{key: key + "/"},
			})
		}
	}

	obj := s.page[0]
	s.page = s.page[1:]

	return obj, nil
}

// streamReader adapts a chunk stream to io.Reader for the upload
// manager, remembering whether a failure came from the source so the
// write can attribute it.
type streamReader struct {
	ctx       context.Context
	stream    filestore.Stream[[]byte]
	chunk     []byte
	read      int64
	done      bool
	sourceErr error
}

func (r *streamReader) Read(p []byte) (int, error) {
	for len(r.chunk) == 0 {
		if r.done {
			return 0, io.EOF
		}

		chunk, err := r.stream.Next(r.ctx)
		if errors.Is(err, io.EOF) {
			r.done = true
			return 0, io.EOF
		}

		if err != nil {
			r.done = true
			r.sourceErr = err

			return 0, err
		}

		r.chunk = chunk
	}

	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	r.read += int64(n)

	return n, nil
}
