package b2

import (
	"context"
	"io"

	"github.com/hupe1980/filestore"
)

// listFileNamesStream pulls b2_list_file_names pages lazily, buffering
// one page at a time and following the nextFileName cursor until the
// service reports the listing is complete.
type listFileNamesStream struct {
	client  *client
	path    filestore.ObjectPath
	request listFileNamesRequest
	page    []fileInfo
	done    bool
}

func newListFileNamesStream(c *client, path filestore.ObjectPath, request listFileNamesRequest) *listFileNamesStream {
	return &listFileNamesStream{client: c, path: path, request: request}
}

func (s *listFileNamesStream) Next(ctx context.Context) (fileInfo, error) {
	for len(s.page) == 0 {
		if s.done {
			return fileInfo{}, io.EOF
		}

		response, err := s.client.listFileNames(ctx, s.path, s.request)
		if err != nil {
			s.done = true
			return fileInfo{}, err
		}

		s.page = response.Files

		if response.NextFileName == nil {
			s.done = true
		} else {
			s.request.StartFileName = response.NextFileName
		}
	}

	info := s.page[0]
	s.page = s.page[1:]

	return info, nil
}

// listFileVersionsStream pulls b2_list_file_versions pages lazily,
// following the paired nextFileName/nextFileId cursor.
type listFileVersionsStream struct {
	client  *client
	path    filestore.ObjectPath
	request listFileVersionsRequest
	page    []fileInfo
	done    bool
}

func newListFileVersionsStream(c *client, path filestore.ObjectPath, request listFileVersionsRequest) *listFileVersionsStream {
	return &listFileVersionsStream{client: c, path: path, request: request}
}

func (s *listFileVersionsStream) Next(ctx context.Context) (fileInfo, error) {
	for len(s.page) == 0 {
		if s.done {
			return fileInfo{}, io.EOF
		}

		response, err := s.client.listFileVersions(ctx, s.path, s.request)
		if err != nil {
			s.done = true
			return fileInfo{}, err
		}

		s.page = response.Files

		if response.NextFileName == nil {
			s.done = true
		} else {
			s.request.StartFileName = response.NextFileName
			s.request.StartFileID = response.NextFileID
		}
	}

	info := s.page[0]
	s.page = s.page[1:]

	return info, nil
}
