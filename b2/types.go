package b2

// Wire types for the subset of the B2 native API the backend uses. All
// requests are JSON bodies POSTed to the api host returned by the
// authorize call; field names follow the B2 documentation.

type errorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type authorizeAccountResponse struct {
	AccountID          string `json:"accountId"`
	AuthorizationToken string `json:"authorizationToken"`
	APIURL             string `json:"apiUrl"`
	DownloadURL        string `json:"downloadUrl"`
}

type bucket struct {
	BucketID   string `json:"bucketId"`
	BucketName string `json:"bucketName"`
	BucketType string `json:"bucketType"`
}

type listBucketsRequest struct {
	AccountID  string `json:"accountId"`
	BucketID   string `json:"bucketId,omitempty"`
	BucketName string `json:"bucketName,omitempty"`
}

type listBucketsResponse struct {
	Buckets []bucket `json:"buckets"`
}

type createBucketRequest struct {
	AccountID  string `json:"accountId"`
	BucketName string `json:"bucketName"`
	BucketType string `json:"bucketType"`
}

type fileInfo struct {
	FileID          string `json:"fileId"`
	FileName        string `json:"fileName"`
	ContentLength   int64  `json:"contentLength"`
	ContentType     string `json:"contentType"`
	ContentSha1     string `json:"contentSha1"`
	Action          string `json:"action"`
	UploadTimestamp int64  `json:"uploadTimestamp"`
}

type listFileNamesRequest struct {
	BucketID      string  `json:"bucketId"`
	StartFileName *string `json:"startFileName,omitempty"`
	MaxFileCount  int     `json:"maxFileCount,omitempty"`
	Prefix        string  `json:"prefix,omitempty"`
	Delimiter     string  `json:"delimiter,omitempty"`
}

type listFileNamesResponse struct {
	Files        []fileInfo `json:"files"`
	NextFileName *string    `json:"nextFileName"`
}

type listFileVersionsRequest struct {
	BucketID      string  `json:"bucketId"`
	StartFileName *string `json:"startFileName,omitempty"`
	StartFileID   *string `json:"startFileId,omitempty"`
	MaxFileCount  int     `json:"maxFileCount,omitempty"`
	Prefix        string  `json:"prefix,omitempty"`
}

type listFileVersionsResponse struct {
	Files        []fileInfo `json:"files"`
	NextFileName *string    `json:"nextFileName"`
	NextFileID   *string    `json:"nextFileId"`
}

type deleteFileVersionRequest struct {
	FileName string `json:"fileName"`
	FileID   string `json:"fileId"`
}

type deleteFileVersionResponse struct {
	FileName string `json:"fileName"`
	FileID   string `json:"fileId"`
}

type getUploadURLRequest struct {
	BucketID string `json:"bucketId"`
}

type getUploadURLResponse struct {
	BucketID           string `json:"bucketId"`
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}
