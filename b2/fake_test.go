package b2

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
)

// fakeB2 is an in-memory stand-in for the B2 API, covering the calls
// the backend makes. One version per file unless extra versions are
// added explicitly.
type fakeB2 struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	keyID          string
	key            string
	token          string
	authorizations int
	alwaysExpired  bool
	pageSize       int

	buckets  []bucket
	nextID   int
	versions map[string][]fileInfo // bucketID -> versions, sorted
	contents map[string][]byte     // bucketName/fileName -> data
	deleted  []string              // fileIDs removed via delete_file_version
}

func newFakeB2(t *testing.T) *fakeB2 {
	f := &fakeB2{
		t:        t,
		keyID:    "key-id",
		key:      "key-secret",
		pageSize: 1000,
		versions: make(map[string][]fileInfo),
		contents: make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/b2api/v2/b2_authorize_account", f.handleAuthorize)
	mux.HandleFunc("/b2api/v2/", f.handleAPI)
	mux.HandleFunc("/upload/", f.handleUpload)
	mux.HandleFunc("/file/", f.handleDownload)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeB2) addBucket(name string) bucket {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addBucketLocked(name)
}

func (f *fakeB2) addBucketLocked(name string) bucket {
	f.nextID++
	bkt := bucket{
		BucketID:   fmt.Sprintf("bucket-%d", f.nextID),
		BucketName: name,
		BucketType: "allPrivate",
	}
	f.buckets = append(f.buckets, bkt)

	return bkt
}

func (f *fakeB2) addFile(bucketName, fileName, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var bucketID string
	for _, bkt := range f.buckets {
		if bkt.BucketName == bucketName {
			bucketID = bkt.BucketID
		}
	}
	if bucketID == "" {
		f.t.Fatalf("no bucket named %q", bucketName)
	}

	f.nextID++
	f.versions[bucketID] = append(f.versions[bucketID], fileInfo{
		FileID:        fmt.Sprintf("file-%d", f.nextID),
		FileName:      fileName,
		ContentLength: int64(len(content)),
		Action:        "upload",
	})
	sortVersions(f.versions[bucketID])

	f.contents[bucketName+"/"+fileName] = []byte(content)
}

func sortVersions(versions []fileInfo) {
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].FileName != versions[j].FileName {
			return versions[i].FileName < versions[j].FileName
		}

		return versions[i].FileID < versions[j].FileID
	})
}

func (f *fakeB2) rotateToken() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.token = "rotated-out-of-band"
}

func (f *fakeB2) authorizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.authorizations
}

func (f *fakeB2) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.deleted...)
}

func (f *fakeB2) content(bucketName, fileName string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.contents[bucketName+"/"+fileName]

	return data, ok
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Status: status, Code: code, Message: message})
}

func (f *fakeB2) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(f.keyID+":"+f.key))
	if r.Header.Get("Authorization") != expected {
		writeAPIError(w, 401, "bad_auth_token", "invalid credentials")
		return
	}

	f.authorizations++
	f.token = fmt.Sprintf("session-%d", f.authorizations)

	writeJSON(w, 200, authorizeAccountResponse{
		AccountID:          "account-1",
		AuthorizationToken: f.token,
		APIURL:             f.server.URL,
		DownloadURL:        f.server.URL,
	})
}

func (f *fakeB2) checkToken(w http.ResponseWriter, r *http.Request) bool {
	if f.alwaysExpired || r.Header.Get("Authorization") != f.token {
		writeAPIError(w, 401, "expired_auth_token", "token expired")
		return false
	}

	return true
}

func (f *fakeB2) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.checkToken(w, r) {
		return
	}

	method := strings.TrimPrefix(r.URL.Path, "/b2api/v2/")
	body, _ := io.ReadAll(r.Body)

	switch method {
	case "b2_list_buckets":
		f.listBuckets(w, body)
	case "b2_create_bucket":
		f.createBucket(w, body)
	case "b2_list_file_names":
		f.listFileNames(w, body)
	case "b2_list_file_versions":
		f.listFileVersions(w, body)
	case "b2_delete_file_version":
		f.deleteFileVersion(w, body)
	case "b2_get_upload_url":
		f.getUploadURL(w, body)
	default:
		writeAPIError(w, 400, "bad_request", "unknown method "+method)
	}
}

func (f *fakeB2) listBuckets(w http.ResponseWriter, body []byte) {
	var req listBucketsRequest
	_ = json.Unmarshal(body, &req)

	var out []bucket
	for _, bkt := range f.buckets {
		if req.BucketName != "" && bkt.BucketName != req.BucketName {
			continue
		}

		out = append(out, bkt)
	}

	writeJSON(w, 200, listBucketsResponse{Buckets: out})
}

func (f *fakeB2) createBucket(w http.ResponseWriter, body []byte) {
	var req createBucketRequest
	_ = json.Unmarshal(body, &req)

	writeJSON(w, 200, f.addBucketLocked(req.BucketName))
}

// visibleFiles collapses versions to one entry per name, newest first
// in version order, mirroring what b2_list_file_names shows.
func (f *fakeB2) visibleFiles(bucketID string) []fileInfo {
	var out []fileInfo
	seen := make(map[string]bool)

	for _, v := range f.versions[bucketID] {
		if seen[v.FileName] {
			continue
		}

		seen[v.FileName] = true
		out = append(out, v)
	}

	return out
}

func (f *fakeB2) listFileNames(w http.ResponseWriter, body []byte) {
	var req listFileNamesRequest
	_ = json.Unmarshal(body, &req)

	var matched []fileInfo

	if req.Delimiter == "/" {
		matched = foldByDelimiter(f.visibleFiles(req.BucketID), req.Prefix)
	} else {
		for _, info := range f.visibleFiles(req.BucketID) {
			if strings.HasPrefix(info.FileName, req.Prefix) {
				matched = append(matched, info)
			}
		}
	}

	start := 0
	if req.StartFileName != nil {
		for start < len(matched) && matched[start].FileName < *req.StartFileName {
			start++
		}
	}
	matched = matched[start:]

	page := f.pageSize
	if req.MaxFileCount > 0 && req.MaxFileCount < page {
		page = req.MaxFileCount
	}

	resp := listFileNamesResponse{}
	if len(matched) > page {
		resp.Files = matched[:page]
		next := matched[page].FileName
		resp.NextFileName = &next
	} else {
		resp.Files = matched
	}

	writeJSON(w, 200, resp)
}

func foldByDelimiter(files []fileInfo, prefix string) []fileInfo {
	var out []fileInfo
	seenFolders := make(map[string]bool)

	for _, info := range files {
		if !strings.HasPrefix(info.FileName, prefix) {
			continue
		}

		rest := info.FileName[len(prefix):]
		if idx := strings.Index(rest, "/"); idx >= 0 {
			folder := prefix + rest[:idx+1]
			if !seenFolders[folder] {
				seenFolders[folder] = true
				out = append(out, fileInfo{FileName: folder, Action: "folder"})
			}

			continue
		}

		out = append(out, info)
	}

	return out
}

func (f *fakeB2) listFileVersions(w http.ResponseWriter, body []byte) {
	var req listFileVersionsRequest
	_ = json.Unmarshal(body, &req)

	var matched []fileInfo
	for _, info := range f.versions[req.BucketID] {
		if strings.HasPrefix(info.FileName, req.Prefix) {
			matched = append(matched, info)
		}
	}

	writeJSON(w, 200, listFileVersionsResponse{Files: matched})
}

func (f *fakeB2) deleteFileVersion(w http.ResponseWriter, body []byte) {
	var req deleteFileVersionRequest
	_ = json.Unmarshal(body, &req)

	for bucketID, versions := range f.versions {
		for i, v := range versions {
			if v.FileID == req.FileID {
				f.versions[bucketID] = append(versions[:i], versions[i+1:]...)
				f.deleted = append(f.deleted, req.FileID)

				writeJSON(w, 200, deleteFileVersionResponse{FileName: req.FileName, FileID: req.FileID})

				return
			}
		}
	}

	writeAPIError(w, 400, "file_not_present", "no such version")
}

func (f *fakeB2) getUploadURL(w http.ResponseWriter, body []byte) {
	var req getUploadURLRequest
	_ = json.Unmarshal(body, &req)

	writeJSON(w, 200, getUploadURLResponse{
		BucketID:           req.BucketID,
		UploadURL:          f.server.URL + "/upload/" + req.BucketID,
		AuthorizationToken: "upload-" + f.token,
	})
}

func (f *fakeB2) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "upload-"+f.token {
		writeAPIError(w, 401, "expired_auth_token", "upload token expired")
		return
	}

	bucketID := strings.TrimPrefix(r.URL.Path, "/upload/")

	var bucketName string
	for _, bkt := range f.buckets {
		if bkt.BucketID == bucketID {
			bucketName = bkt.BucketName
		}
	}
	if bucketName == "" {
		writeAPIError(w, 400, "invalid_bucket_id", "no such bucket")
		return
	}

	fileName, err := unescapeFileName(r.Header.Get("X-Bz-File-Name"))
	if err != nil {
		writeAPIError(w, 400, "bad_request", "bad file name")
		return
	}

	data, _ := io.ReadAll(r.Body)

	if fmt.Sprintf("%x", sha1.Sum(data)) != r.Header.Get("X-Bz-Content-Sha1") {
		writeAPIError(w, 400, "bad_request", "checksum mismatch")
		return
	}

	f.nextID++
	info := fileInfo{
		FileID:        fmt.Sprintf("file-%d", f.nextID),
		FileName:      fileName,
		ContentLength: int64(len(data)),
		Action:        "upload",
	}

	f.versions[bucketID] = append(f.versions[bucketID], info)
	sortVersions(f.versions[bucketID])
	f.contents[bucketName+"/"+fileName] = data

	writeJSON(w, 200, info)
}

func unescapeFileName(escaped string) (string, error) {
	segments := strings.Split(escaped, "/")
	for i, segment := range segments {
		plain, err := url.PathUnescape(segment)
		if err != nil {
			return "", err
		}

		segments[i] = plain
	}

	return strings.Join(segments, "/"), nil
}

func (f *fakeB2) handleDownload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != f.token {
		writeAPIError(w, 401, "expired_auth_token", "token expired")
		return
	}

	// The router already percent-decodes the path.
	name := strings.TrimPrefix(r.URL.Path, "/file/")

	data, ok := f.contents[name]
	if !ok {
		writeAPIError(w, 404, "not_found", "no such file")
		return
	}

	w.WriteHeader(200)
	_, _ = w.Write(data)
}
