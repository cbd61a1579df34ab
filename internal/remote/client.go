package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"conveyor/internal/api"
	"conveyor/internal/document"
	"conveyor/internal/services"
	"conveyor/internal/store"
)

const maxErrorBody = 512

// Client talks to one node.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient builds a client for nodeURL. A bare host:port gets an http
// scheme. A non-positive timeout disables the per-request limit.
func NewClient(nodeURL string, timeout time.Duration) (*Client, error) {
	nodeURL = strings.TrimSpace(nodeURL)
	if nodeURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "client", "node url is empty", nil)
	}
	if !strings.Contains(nodeURL, "://") {
		nodeURL = "http://" + nodeURL
	}
	base, err := url.Parse(nodeURL)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "client", "invalid node url", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	client := &http.Client{}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &Client{base: base, http: client}, nil
}

// URL returns the node's base URL.
func (c *Client) URL() string {
	return c.base.String()
}

type response struct {
	status int
	body   []byte
}

// StatusError is a non-200 answer from the node.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: node returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: node returned status %d: %s", e.Op, e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body []byte) (response, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: params.Encode()})
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return response{}, fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return response{}, ctxErr
		}
		return response{}, services.Wrap(services.ErrTransient, "remote", op, "node unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, services.Wrap(services.ErrTransient, "remote", op, "read response", err)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// statusError classifies an unexpected status.
func statusError(op string, resp response) error {
	body := strings.TrimSpace(string(resp.body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	serr := &StatusError{Op: op, Status: resp.status, Body: body}
	switch {
	case resp.status == http.StatusBadRequest:
		return fmt.Errorf("%w: %w", services.ErrValidation, serr)
	case resp.status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", services.ErrNotFound, serr)
	case resp.status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", services.ErrConfiguration, serr)
	case resp.status >= 500:
		return fmt.Errorf("%w: %w", services.ErrTransient, serr)
	default:
		return serr
	}
}

func (c *Client) getJSON(ctx context.Context, op, path string, params url.Values, out any) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return statusError(op, resp)
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// Ping returns the node's instance id.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, "ping", http.MethodGet, api.PathPing, nil, nil)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		return "", statusError("ping", resp)
	}
	return strings.TrimSpace(string(resp.body)), nil
}

// Status returns the node summary.
func (c *Client) Status(ctx context.Context) (api.NodeStatus, error) {
	var status api.NodeStatus
	err := c.getJSON(ctx, "status", api.PathStatus, nil, &status)
	return status, err
}

// Properties returns the property table configured for stage. Unknown stages
// have an empty table.
func (c *Client) Properties(ctx context.Context, stageName string) (map[string]any, error) {
	props := map[string]any{}
	err := c.getJSON(ctx, "properties", api.PathGetProperties, url.Values{api.ParamStage: {stageName}}, &props)
	if err != nil {
		return nil, err
	}
	return props, nil
}

// Document looks id up in the active set and then the archive. It returns nil
// when neither holds it.
func (c *Client) Document(ctx context.Context, id string) (*api.DocumentResponse, error) {
	var out api.DocumentResponse
	err := c.getJSON(ctx, "document", api.PathDocument, url.Values{api.ParamID: {id}}, &out)
	if errors.Is(err, services.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Archive returns up to limit archive entries after the given sequence. With
// wait set the node holds the request open until an entry arrives or its
// poll budget runs out.
func (c *Client) Archive(ctx context.Context, after int64, limit int, wait bool) (api.ArchiveResponse, error) {
	params := url.Values{
		api.ParamAfter: {fmt.Sprint(after)},
		api.ParamWait:  {api.Flag(wait)},
	}
	if limit > 0 {
		params.Set(api.ParamLimit, fmt.Sprint(limit))
	}
	var out api.ArchiveResponse
	err := c.getJSON(ctx, "archive", api.PathArchive, params, &out)
	return out, err
}

func fileParams(stageName, docID, fileName string) url.Values {
	params := url.Values{api.ParamStage: {stageName}, api.ParamDocID: {docID}}
	if fileName != "" {
		params.Set(api.ParamFileName, fileName)
	}
	return params
}

// SaveFile uploads an attachment on behalf of stageName.
func (c *Client) SaveFile(ctx context.Context, stageName string, a *store.Attachment) error {
	if a.SavedByStage == "" {
		a.SavedByStage = stageName
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("save file: encode: %w", err)
	}
	resp, err := c.do(ctx, "save file", http.MethodPost, api.PathFile, url.Values{api.ParamStage: {stageName}}, body)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return statusError("save file", resp)
	}
	return nil
}

// File downloads an attachment. It returns nil when the file does not exist.
func (c *Client) File(ctx context.Context, stageName, docID, fileName string) (*store.Attachment, error) {
	var a store.Attachment
	err := c.getJSON(ctx, "get file", api.PathFile, fileParams(stageName, docID, fileName), &a)
	if errors.Is(err, services.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FileNames lists the attachments of an active document.
func (c *Client) FileNames(ctx context.Context, stageName, docID string) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "list files", api.PathFile, fileParams(stageName, docID, ""), &names); err != nil {
		return nil, err
	}
	return names, nil
}

// DeleteFile removes an attachment and reports whether it existed.
func (c *Client) DeleteFile(ctx context.Context, stageName, docID, fileName string) (bool, error) {
	resp, err := c.do(ctx, "delete file", http.MethodDelete, api.PathFile, fileParams(stageName, docID, fileName), nil)
	if err != nil {
		return false, err
	}
	switch resp.status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError("delete file", resp)
	}
}

// decodeDocument parses a document body returned by the node.
func decodeDocument(op string, body []byte) (*document.Document, error) {
	doc, err := document.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc, nil
}
