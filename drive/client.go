package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	errs "github.com/alexjbarnes/drivesync/internal/errors"
)

// Client talks to the Drive REST API. It implements RemoteStore.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ RemoteStore = (*Client)(nil)

// NewClient creates a Drive client. If httpClient is nil,
// http.DefaultClient is used.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
	}
}

// do sends one request and returns the response body. 404 responses map
// to errors.ErrNotFound; other non-2xx responses surface the body's
// "error" field when present.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body []byte) ([]byte, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("API %s: %w", endpoint, errs.ErrNotFound)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(respBody, "error").String(); msg != "" {
			return nil, fmt.Errorf("API %s (%d): %s", endpoint, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("API %s returned status %d: %s", endpoint, resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func parseRemoteFile(result gjson.Result) RemoteFile {
	return RemoteFile{
		ID:           FileID(result.Get("id").String()),
		Name:         result.Get("name").String(),
		Checksum:     result.Get("checksum").String(),
		ModifiedTime: result.Get("modifiedTime").Int(),
		Folder:       Folder(result.Get("folder").String()),
	}
}

// Create stores a new object under name in the given folder.
func (c *Client) Create(ctx context.Context, name string, content []byte, folder Folder) (RemoteFile, error) {
	query := url.Values{"name": {name}, "folder": {string(folder)}}

	respBody, err := c.do(ctx, http.MethodPost, "/files", query, content)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("creating %s: %w", name, err)
	}

	return parseRemoteFile(gjson.ParseBytes(respBody)), nil
}

// Update replaces an object's content.
func (c *Client) Update(ctx context.Context, id FileID, content []byte) (RemoteFile, error) {
	respBody, err := c.do(ctx, http.MethodPatch, "/files/"+url.PathEscape(string(id))+"/content", nil, content)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("updating %s: %w", id, err)
	}

	return parseRemoteFile(gjson.ParseBytes(respBody)), nil
}

// Read fetches an object's raw content.
func (c *Client) Read(ctx context.Context, id FileID) ([]byte, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(string(id))+"/content", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}

	return respBody, nil
}

// Delete permanently removes an object.
func (c *Client) Delete(ctx context.Context, id FileID) error {
	if _, err := c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(string(id)), nil, nil); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}

	return nil
}

// Move relocates an object to another folder.
func (c *Client) Move(ctx context.Context, id FileID, folder Folder) error {
	query := url.Values{"folder": {string(folder)}}

	if _, err := c.do(ctx, http.MethodPost, "/files/"+url.PathEscape(string(id))+"/move", query, nil); err != nil {
		return fmt.Errorf("moving %s to %s: %w", id, folder, err)
	}

	return nil
}

// Rename changes an object's stored name.
func (c *Client) Rename(ctx context.Context, id FileID, newName string) error {
	query := url.Values{"name": {newName}}

	if _, err := c.do(ctx, http.MethodPost, "/files/"+url.PathEscape(string(id))+"/rename", query, nil); err != nil {
		return fmt.Errorf("renaming %s: %w", id, err)
	}

	return nil
}

// List enumerates the objects in a folder.
func (c *Client) List(ctx context.Context, folder Folder) ([]RemoteFile, error) {
	query := url.Values{"folder": {string(folder)}}

	respBody, err := c.do(ctx, http.MethodGet, "/files", query, nil)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folder, err)
	}

	var files []RemoteFile
	for _, result := range gjson.GetBytes(respBody, "files").Array() {
		files = append(files, parseRemoteFile(result))
	}

	return files, nil
}

// Stat resolves one object's current record.
func (c *Client) Stat(ctx context.Context, id FileID) (RemoteFile, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(string(id)), nil, nil)
	if err != nil {
		return RemoteFile{}, fmt.Errorf("resolving %s: %w", id, err)
	}

	return parseRemoteFile(gjson.ParseBytes(respBody)), nil
}

// ReadMetaDoc fetches a metadata document by well-known name.
func (c *Client) ReadMetaDoc(ctx context.Context, name string) ([]byte, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/meta/"+url.PathEscape(name), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("reading meta doc %s: %w", name, err)
	}

	return respBody, nil
}

// WriteMetaDoc stores a metadata document.
func (c *Client) WriteMetaDoc(ctx context.Context, name string, content []byte) error {
	if _, err := c.do(ctx, http.MethodPut, "/meta/"+url.PathEscape(name), nil, content); err != nil {
		return fmt.Errorf("writing meta doc %s: %w", name, err)
	}

	return nil
}
