package b2

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/hupe1980/filestore"
)

const (
	// DefaultAPIHost is the endpoint the authorize call is sent to. All
	// later calls go to the api host the authorize response names.
	DefaultAPIHost = "https://api.backblazeb2.com"

	// DefaultAPIRetries is the total number of attempts an API call gets
	// when the session token keeps expiring mid-call.
	DefaultAPIRetries = 3

	apiVersion = "v2"
)

type settings struct {
	keyID             string
	key               string
	host              string
	prefix            filestore.ObjectPath
	retries           int
	maxConnections    int64
	initialBufferSize int
	minimumBufferSize int
	logger            *filestore.Logger
}

// client wraps the HTTP transport and the cached authorize session. A
// session is established lazily on first use and dropped as soon as the
// service reports it expired, so concurrent calls that hit the same
// expiry trigger exactly one re-authorization.
type client struct {
	http     *filestore.Limited[*resty.Client]
	settings settings

	mu     sync.Mutex
	cached *authorizeAccountResponse
}

func newClient(s settings) *client {
	base := resty.New()

	return &client{
		http: filestore.NewLimited(base, s.maxConnections, func(c *resty.Client) *resty.Client {
			return c.Clone()
		}),
		settings: s,
	}
}

func apiURL(host, method string) string {
	return fmt.Sprintf("%s/b2api/%s/%s", host, apiVersion, method)
}

// session returns the cached authorize response, establishing it when
// necessary.
func (c *client) session(ctx context.Context) (authorizeAccountResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return *c.cached, nil
	}

	session, err := c.authorizeAccount(ctx)
	if err != nil {
		return authorizeAccountResponse{}, err
	}

	c.cached = &session

	return session, nil
}

// resetSession drops the cached session, but only if it still carries
// the token the caller saw fail. A session another caller already
// refreshed stays in place.
func (c *client) resetSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.cached.AuthorizationToken == token {
		c.cached = nil
	}
}

func (c *client) accountID(ctx context.Context) (string, error) {
	session, err := c.session(ctx)
	if err != nil {
		return "", err
	}

	return session.AccountID, nil
}

func (c *client) authorizeAccount(ctx context.Context) (authorizeAccountResponse, error) {
	guard, err := c.http.Take(ctx)
	if err != nil {
		return authorizeAccountResponse{}, err
	}
	defer guard.Release()

	secret := "Basic " + base64.StdEncoding.EncodeToString([]byte(c.settings.keyID+":"+c.settings.key))

	resp, err := (*guard.Value()).R().
		SetContext(ctx).
		SetHeader("Authorization", secret).
		Get(apiURL(c.settings.host, "b2_authorize_account"))

	c.settings.logger.LogAPICall(ctx, "b2_authorize_account", statusOf(resp), err)

	if err != nil {
		return authorizeAccountResponse{}, translateTransportError(err)
	}

	if !resp.IsSuccess() {
		return authorizeAccountResponse{}, generateError("b2_authorize_account", filestore.EmptyPath(), resp.Body())
	}

	var session authorizeAccountResponse
	if err := json.Unmarshal(resp.Body(), &session); err != nil {
		return authorizeAccountResponse{}, filestore.NewInvalidData("unable to parse the response from b2_authorize_account", err)
	}

	return session, nil
}

// call performs one authorized API call, re-authorizing and retrying
// when the cached session token has expired. The retry budget covers
// all attempts including the first.
func (c *client) call(ctx context.Context, method string, path filestore.ObjectPath, request, response any) error {
	tries := 0

	for {
		session, err := c.session(ctx)
		if err != nil {
			return err
		}

		err = c.post(ctx, method, apiURL(session.APIURL, method), session.AuthorizationToken, path, request, response)
		if err == nil {
			return nil
		}

		if filestore.IsKind(err, filestore.KindAccessExpired) {
			c.resetSession(session.AuthorizationToken)

			tries++
			if tries < c.settings.retries {
				continue
			}
		}

		return err
	}
}

func (c *client) post(ctx context.Context, method, requestURL, token string, path filestore.ObjectPath, request, response any) error {
	guard, err := c.http.Take(ctx)
	if err != nil {
		return err
	}
	defer guard.Release()

	resp, err := (*guard.Value()).R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetHeader("Content-Type", "application/json").
		SetBody(request).
		Post(requestURL)

	c.settings.logger.LogAPICall(ctx, method, statusOf(resp), err)

	if err != nil {
		return translateTransportError(err)
	}

	if !resp.IsSuccess() {
		return generateError(method, path, resp.Body())
	}

	if response == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Body(), response); err != nil {
		return filestore.NewInvalidData(fmt.Sprintf("unable to parse the response from %s", method), err)
	}

	return nil
}

func (c *client) listBuckets(ctx context.Context, path filestore.ObjectPath, request listBucketsRequest) (listBucketsResponse, error) {
	var response listBucketsResponse
	err := c.call(ctx, "b2_list_buckets", path, request, &response)

	return response, err
}

func (c *client) createBucket(ctx context.Context, path filestore.ObjectPath, request createBucketRequest) (bucket, error) {
	var response bucket
	err := c.call(ctx, "b2_create_bucket", path, request, &response)

	return response, err
}

func (c *client) listFileNames(ctx context.Context, path filestore.ObjectPath, request listFileNamesRequest) (listFileNamesResponse, error) {
	var response listFileNamesResponse
	err := c.call(ctx, "b2_list_file_names", path, request, &response)

	return response, err
}

func (c *client) listFileVersions(ctx context.Context, path filestore.ObjectPath, request listFileVersionsRequest) (listFileVersionsResponse, error) {
	var response listFileVersionsResponse
	err := c.call(ctx, "b2_list_file_versions", path, request, &response)

	return response, err
}

func (c *client) deleteFileVersion(ctx context.Context, path filestore.ObjectPath, request deleteFileVersionRequest) (deleteFileVersionResponse, error) {
	var response deleteFileVersionResponse
	err := c.call(ctx, "b2_delete_file_version", path, request, &response)

	return response, err
}

func (c *client) getUploadURL(ctx context.Context, path filestore.ObjectPath, request getUploadURLRequest) (getUploadURLResponse, error) {
	var response getUploadURLResponse
	err := c.call(ctx, "b2_get_upload_url", path, request, &response)

	return response, err
}

// download fetches a file's content from the download host. The
// returned reader holds one connection permit until closed.
func (c *client) download(ctx context.Context, bucketName, fileName string, path filestore.ObjectPath) (io.ReadCloser, error) {
	tries := 0

	for {
		session, err := c.session(ctx)
		if err != nil {
			return nil, err
		}

		requestURL := fmt.Sprintf("%s/file/%s/%s",
			session.DownloadURL, url.PathEscape(bucketName), escapeFileName(fileName))

		guard, err := c.http.Take(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := (*guard.Value()).R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			SetHeader("Authorization", session.AuthorizationToken).
			Get(requestURL)

		c.settings.logger.LogAPICall(ctx, "download_file_by_name", statusOf(resp), err)

		if err != nil {
			guard.Release()
			return nil, translateTransportError(err)
		}

		if resp.IsSuccess() {
			return &guardedBody{body: resp.RawBody(), release: guard.Release}, nil
		}

		body, rerr := io.ReadAll(resp.RawBody())
		_ = resp.RawBody().Close()
		guard.Release()

		if rerr != nil {
			return nil, translateTransportError(rerr)
		}

		if resp.StatusCode() == 404 {
			return nil, filestore.NewNotFound(path, nil)
		}

		err = generateError("download_file_by_name", path, body)

		if filestore.IsKind(err, filestore.KindAccessExpired) {
			c.resetSession(session.AuthorizationToken)

			tries++
			if tries < c.settings.retries {
				continue
			}
		}

		return nil, err
	}
}

// upload writes data as a new version of fileName. The upload token
// from b2_get_upload_url has its own lifetime, so an expiry retries the
// whole sequence with a fresh upload endpoint.
func (c *client) upload(ctx context.Context, bucketID, fileName string, data []byte, path filestore.ObjectPath) (fileInfo, error) {
	digest := sha1.Sum(data)
	tries := 0

	for {
		endpoint, err := c.getUploadURL(ctx, path, getUploadURLRequest{BucketID: bucketID})
		if err != nil {
			return fileInfo{}, err
		}

		guard, err := c.http.Take(ctx)
		if err != nil {
			return fileInfo{}, err
		}

		resp, err := (*guard.Value()).R().
			SetContext(ctx).
			SetHeader("Authorization", endpoint.AuthorizationToken).
			SetHeader("X-Bz-File-Name", escapeFileName(fileName)).
			SetHeader("Content-Type", "b2/x-auto").
			SetHeader("X-Bz-Content-Sha1", fmt.Sprintf("%x", digest)).
			SetBody(data).
			Post(endpoint.UploadURL)

		guard.Release()
		c.settings.logger.LogAPICall(ctx, "b2_upload_file", statusOf(resp), err)

		if err != nil {
			return fileInfo{}, translateTransportError(err)
		}

		if resp.IsSuccess() {
			var info fileInfo
			if uerr := json.Unmarshal(resp.Body(), &info); uerr != nil {
				return fileInfo{}, filestore.NewInvalidData("unable to parse the response from b2_upload_file", uerr)
			}

			return info, nil
		}

		uerr := generateError("b2_upload_file", path, resp.Body())

		if filestore.IsKind(uerr, filestore.KindAccessExpired) {
			tries++
			if tries < c.settings.retries {
				continue
			}
		}

		return fileInfo{}, uerr
	}
}

type guardedBody struct {
	body    io.ReadCloser
	release func()
	once    sync.Once
}

func (g *guardedBody) Read(p []byte) (int, error) {
	return g.body.Read(p)
}

func (g *guardedBody) Close() error {
	err := g.body.Close()
	g.once.Do(g.release)

	return err
}

// escapeFileName percent-encodes a B2 file name for use in a URL path
// or the X-Bz-File-Name header, keeping the separators intact.
func escapeFileName(name string) string {
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}

	return strings.Join(segments, "/")
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}

	return resp.StatusCode()
}

// generateError maps a non-success API response onto the storage error
// taxonomy using the status and code the service reports.
func generateError(method string, path filestore.ObjectPath, response []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(response, &apiErr); err != nil {
		return filestore.NewInvalidData(fmt.Sprintf("unable to parse the error response from %s", method), err)
	}

	switch {
	case method == "b2_authorize_account" && apiErr.Status == 401 && apiErr.Code == "bad_auth_token":
		return filestore.NewAccessDenied("the application key id or key were not recognized")
	case apiErr.Status == 400 && apiErr.Code == "invalid_bucket_id":
		return filestore.NewNotFound(path, nil)
	case apiErr.Status == 400 && (apiErr.Code == "bad_request" || apiErr.Code == "out_of_range"):
		return filestore.NewInternalError(apiErr.Message, nil)
	case apiErr.Status == 401 && apiErr.Code == "unauthorized":
		return filestore.NewAccessDenied("the application key id or key were not recognized")
	case apiErr.Status == 401 && apiErr.Code == "bad_auth_token":
		return filestore.NewAccessExpired("the authorization token is invalid")
	case apiErr.Status == 401 && apiErr.Code == "expired_auth_token":
		return filestore.NewAccessExpired("the authorization token has expired")
	case apiErr.Status == 401 && apiErr.Code == "unsupported":
		return filestore.NewInternalError(apiErr.Message, nil)
	case apiErr.Status == 404:
		return filestore.NewNotFound(path, nil)
	case apiErr.Status == 503 && apiErr.Code == "bad_request":
		return filestore.NewConnectionFailed(apiErr.Message, nil)
	default:
		return filestore.NewOtherError(fmt.Sprintf("unexpected B2 API failure %d: %s, %s", apiErr.Status, apiErr.Code, apiErr.Message), nil)
	}
}

// translateTransportError maps HTTP transport failures onto the storage
// error taxonomy. Responses that arrived are handled by generateError;
// this only sees failures below the protocol.
func translateTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return filestore.NewError(filestore.KindCancelled, "the request was interrupted", err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return filestore.NewConnectionFailed(err.Error(), err)
		}

		if errors.Is(urlErr.Err, io.EOF) || errors.Is(urlErr.Err, io.ErrUnexpectedEOF) {
			return filestore.NewConnectionClosed(err.Error(), err)
		}

		return filestore.NewConnectionFailed(err.Error(), err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return filestore.NewConnectionClosed(err.Error(), err)
	}

	return filestore.NewInvalidData(err.Error(), err)
}
