package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPAdapterOptions configures the REST adapter.
type HTTPAdapterOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	Timeout    time.Duration
}

// HTTPAdapter talks to the tracker's attachment REST API. It performs no
// retries of its own; retry scheduling belongs to the job queue.
type HTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewHTTPAdapter(opts HTTPAdapterOptions) *HTTPAdapter {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		timeout:    timeout,
	}
}

func (a *HTTPAdapter) UploadObject(ctx context.Context, cred Credential, data []byte, meta ObjectMetadata) (string, error) {
	// File names come from users; spaces, & and the like must not leak
	// into the query string unescaped.
	endpoint := fmt.Sprintf("%s/attachments?fileName=%s", a.baseURL, url.QueryEscape(meta.FileName))
	body, err := a.do(ctx, cred, http.MethodPost, endpoint, meta.MimeType, data, nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	return resp.Reference, nil
}

func (a *HTTPAdapter) UploadChunk(ctx context.Context, cred Credential, sessionToken string, startByte, endByte int64, data []byte) error {
	endpoint := fmt.Sprintf("%s/attachments/uploads/%s", a.baseURL, url.PathEscape(sessionToken))
	contentRange := fmt.Sprintf("bytes %d-%d/*", startByte, endByte)
	_, err := a.do(ctx, cred, http.MethodPut, endpoint, "application/octet-stream", data, map[string]string{
		"Content-Range": contentRange,
	})
	return err
}

func (a *HTTPAdapter) LinkObject(ctx context.Context, cred Credential, workItemID, remoteReference, comment string) error {
	endpoint := fmt.Sprintf("%s/workitems/%s/attachments", a.baseURL, url.PathEscape(workItemID))
	payload, err := json.Marshal(map[string]string{
		"reference": remoteReference,
		"comment":   comment,
	})
	if err != nil {
		return err
	}
	_, err = a.do(ctx, cred, http.MethodPost, endpoint, "application/json", payload, nil)
	return err
}

func (a *HTTPAdapter) ListObjects(ctx context.Context, cred Credential, workItemID string) ([]RemoteObject, error) {
	endpoint := fmt.Sprintf("%s/workitems/%s/attachments", a.baseURL, url.PathEscape(workItemID))
	body, err := a.do(ctx, cred, http.MethodGet, endpoint, "", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Value []RemoteObject `json:"value"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}
	return resp.Value, nil
}

func (a *HTTPAdapter) FetchObject(ctx context.Context, cred Credential, remoteReference string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/attachments/%s/content", a.baseURL, url.PathEscape(remoteReference))
	return a.do(ctx, cred, http.MethodGet, endpoint, "", nil, nil)
}

func (a *HTTPAdapter) DeleteLink(ctx context.Context, cred Credential, workItemID, remoteReference string) error {
	endpoint := fmt.Sprintf("%s/workitems/%s/attachments/%s", a.baseURL,
		url.PathEscape(workItemID), url.PathEscape(remoteReference))
	_, err := a.do(ctx, cred, http.MethodDelete, endpoint, "", nil, nil)
	return err
}

func (a *HTTPAdapter) do(ctx context.Context, cred Credential, method, endpoint, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+string(cred))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, ClassifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransport(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return respBody, nil
	}

	message := strings.TrimSpace(string(respBody))
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(respBody, &parsed) == nil && strings.TrimSpace(parsed.Message) != "" {
		message = parsed.Message
	}
	return nil, fmt.Errorf("tracker call failed: status=%d message=%s: %w",
		resp.StatusCode, message, ClassifyStatus(resp.StatusCode))
}
