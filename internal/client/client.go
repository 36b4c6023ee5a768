package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/entitysync/internal/entity"
	"github.com/zeusync/entitysync/internal/observability/log"
)

const (
	DefaultRefreshPath = "/auth/refresh"
	maxErrorBody       = 4 << 10
)

// DefaultPermissionPaths are the path prefixes on which an unresolved 401 means
// the call was not allowed rather than that the session is gone.
var DefaultPermissionPaths = []string{"/users", "/admin"}

// Credentials is the token side of the credential store.
type Credentials interface {
	Token() string
	SetToken(token string) error
}

// Sender is the transport the sync engine drives.
type Sender interface {
	Send(ctx context.Context, method, path string, body any) (json.RawMessage, error)
	Fetch(ctx context.Context, entityType string) ([]entity.Record, error)
}

// HTTPClient talks to {baseURL}/api. Each request carries the current bearer
// token; a 401 triggers exactly one refresh and one replay.
type HTTPClient struct {
	baseURL         string
	credentials     Credentials
	httpClient      *http.Client
	permissionPaths []string
	refreshPath     string
	logger          log.Log
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying client. A cookie jar is installed if it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPermissionPaths replaces the permission-sensitive path prefixes.
func WithPermissionPaths(paths ...string) Option {
	return func(c *HTTPClient) { c.permissionPaths = paths }
}

// WithRefreshPath overrides the token refresh endpoint, relative to /api.
func WithRefreshPath(path string) Option {
	return func(c *HTTPClient) { c.refreshPath = path }
}

// WithLogger sets the client logger.
func WithLogger(logger log.Log) Option {
	return func(c *HTTPClient) { c.logger = logger }
}

func New(baseURL string, creds Credentials, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		credentials:     creds,
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		permissionPaths: DefaultPermissionPaths,
		refreshPath:     DefaultRefreshPath,
		logger:          log.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, _ := cookiejar.New(nil)
		hc := *c.httpClient
		hc.Jar = jar
		c.httpClient = &hc
	}
	c.logger = c.logger.With(log.String("component", "client"))
	return c
}

// Send performs method on {baseURL}/api{path} and returns the raw response body.
// At most one token refresh is attempted per call: up front when no token is
// stored, otherwise after a 401.
func (c *HTTPClient) Send(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil && method != http.MethodGet {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	requestID, ok := log.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}

	token := c.credentials.Token()
	refreshed := false
	if token == "" {
		fresh, ok := c.refresh(ctx, requestID)
		if !ok {
			return nil, &RequestError{Kind: KindAuthExpired, Method: method, Path: path, Cause: ErrNoToken}
		}
		token, refreshed = fresh, true
	}

	status, respBody, err := c.do(ctx, method, path, token, requestID, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && !refreshed {
		if fresh, ok := c.refresh(ctx, requestID); ok {
			retryStatus, retryBody, retryErr := c.do(ctx, method, path, fresh, requestID, payload)
			if retryErr != nil {
				return nil, retryErr
			}
			status, respBody = retryStatus, retryBody
		}
	}

	switch {
	case status >= 200 && status <= 299:
		return respBody, nil
	case status == http.StatusUnauthorized:
		kind := KindAuthExpired
		if c.isPermissionPath(path) {
			kind = KindPermissionDenied
		}
		return nil, &RequestError{Kind: kind, Method: method, Path: path, StatusCode: status, Body: truncate(respBody)}
	default:
		return nil, &RequestError{Kind: KindServer, Method: method, Path: path, StatusCode: status, Body: truncate(respBody)}
	}
}

// Fetch loads a full collection. The response may be {"data": [...]},
// {"<entityType>": [...]} or a bare array.
func (c *HTTPClient) Fetch(ctx context.Context, entityType string) ([]entity.Record, error) {
	raw, err := c.Send(ctx, http.MethodGet, "/"+entityType, nil)
	if err != nil {
		return nil, err
	}
	return DecodeCollection(entityType, raw)
}

func (c *HTTPClient) do(ctx context.Context, method, path, token, requestID string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &RequestError{Kind: KindNetwork, Method: method, Path: path, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &RequestError{Kind: KindNetwork, Method: method, Path: path, StatusCode: resp.StatusCode, Cause: err}
	}
	c.logger.Debug("Request completed",
		log.String("method", method),
		log.String("path", path),
		log.Int("status", resp.StatusCode),
		log.String("request_id", requestID),
		log.Duration("elapsed", time.Since(start)),
	)
	return resp.StatusCode, body, nil
}

// refresh asks the server for a new bearer token using the cookie jar.
func (c *HTTPClient) refresh(ctx context.Context, requestID string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api"+c.refreshPath, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Token refresh failed", log.Error(err))
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Token refresh rejected", log.Int("status", resp.StatusCode))
		return "", false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}
	token := parseAccessToken(body)
	if token == "" {
		c.logger.Warn("Token refresh returned no access token")
		return "", false
	}
	if err = c.credentials.SetToken(token); err != nil {
		c.logger.Warn("Failed to store refreshed token", log.Error(err))
		return "", false
	}
	c.logger.Info("Access token refreshed")
	return token, true
}

func (c *HTTPClient) isPermissionPath(path string) bool {
	for _, prefix := range c.permissionPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func parseAccessToken(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var payload struct {
		AccessToken string `json:"accessToken"`
		Data        struct {
			AccessToken string `json:"accessToken"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Data.AccessToken != "" {
		return payload.Data.AccessToken
	}
	return payload.AccessToken
}

// DecodeCollection extracts a record list from a collection response.
// Numbers are kept as json.Number so ids survive untouched.
func DecodeCollection(entityType string, raw json.RawMessage) ([]entity.Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var list []entity.Record
	if raw[0] == '[' {
		if err := decode(raw, &list); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entityType, err)
		}
		return list, checkIDs(entityType, list)
	}

	var envelope map[string]json.RawMessage
	if err := decode(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entityType, err)
	}
	for _, key := range []string{"data", entityType} {
		inner, ok := envelope[key]
		if !ok || !bytes.HasPrefix(bytes.TrimSpace(inner), []byte("[")) {
			continue
		}
		if err := decode(inner, &list); err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", entityType, key, err)
		}
		return list, checkIDs(entityType, list)
	}
	return []entity.Record{}, nil
}

// DecodeRecord decodes a single-record response, unwrapping a "data" envelope.
func DecodeRecord(raw json.RawMessage) (entity.Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, nil
	}
	var rec entity.Record
	if err := decode(raw, &rec); err != nil {
		return nil, err
	}
	if inner, ok := rec["data"].(map[string]any); ok && len(rec) == 1 {
		return entity.Record(inner), nil
	}
	return rec, nil
}

func decode(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func checkIDs(entityType string, list []entity.Record) error {
	for i, rec := range list {
		if !rec.HasID() {
			return fmt.Errorf("%w: %s[%d] has no id", entity.ErrInvalidRecord, entityType, i)
		}
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}

var _ Sender = (*HTTPClient)(nil)
