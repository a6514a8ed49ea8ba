package connector

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mkoering/snowfake/internal/config"
	"github.com/mkoering/snowfake/internal/wire"
)

// RequestError is a failure reported by the server, or a non-2xx response
// that carried no envelope.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case message != "":
		return message
	case code != "":
		return fmt.Sprintf("request failed with code %s", code)
	default:
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
}

var ErrClosed = errors.New("connector: connection closed")

// httpConn is the real Connect target: a session against a server that
// speaks the fake wire protocol.
type httpConn struct {
	baseURL string
	token   string
	client  *http.Client
	closed  bool
}

func httpConnect(ctx context.Context, cfg Config) (Conn, error) {
	defaults := config.Default()
	host := cfg.Host
	if host == "" {
		host = defaults.Host
	}
	port := cfg.Port
	if port == 0 {
		port = defaults.Port
	}
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = defaults.Protocol
	}
	timeout := cfg.NetworkTimeout
	if timeout == 0 {
		timeout = defaults.NetworkTimeout
	}

	c := &httpConn{
		baseURL: fmt.Sprintf("%s://%s", protocol, net.JoinHostPort(host, strconv.Itoa(port))),
		client:  &http.Client{Timeout: timeout},
	}

	values := url.Values{}
	if cfg.Database != "" {
		values.Set("databaseName", cfg.Database)
	}
	if cfg.Schema != "" {
		values.Set("schemaName", cfg.Schema)
	}
	loginURL := c.baseURL + "/session/v1/login-request"
	if len(values) > 0 {
		loginURL += "?" + values.Encode()
	}

	var resp wire.LoginResponse
	if err := c.post(ctx, loginURL, nil, "", &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !resp.Success || resp.Data == nil || resp.Data.Token == "" {
		return nil, fmt.Errorf("login: %w", &RequestError{Code: resp.Code, Message: resp.Message})
	}
	c.token = resp.Data.Token
	return c, nil
}

func (c *httpConn) Execute(ctx context.Context, query string) (*Result, error) {
	if c.closed {
		return nil, ErrClosed
	}

	// The client always gzips the request body, like the SDK it stands in
	// for.
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(wire.QueryRequest{SQLText: query}); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var resp wire.QueryResponse
	if err := c.post(ctx, c.baseURL+"/queries/v1/query-request", buf.Bytes(), "gzip", &resp); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if !resp.Success || resp.Data == nil {
		return nil, fmt.Errorf("query: %w", &RequestError{Code: resp.Code, Message: resp.Message})
	}

	columns := make([]Column, 0, len(resp.Data.RowType))
	for _, rt := range resp.Data.RowType {
		columns = append(columns, Column{Name: rt.Name, Type: rt.Type, Nullable: rt.Nullable})
	}
	return &Result{
		QueryID:  resp.Data.QueryID,
		Columns:  columns,
		Rows:     resp.Data.RowSet,
		RowCount: resp.Data.Total,
	}, nil
}

func (c *httpConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var resp wire.SessionResponse
	if err := c.post(context.Background(), c.baseURL+"/session?delete=true", nil, "", &resp); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *httpConn) post(ctx context.Context, rawURL string, body []byte, encoding string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Snowflake Token=%q", c.token))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &RequestError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		code, message := envelopeError(payload)
		return &RequestError{StatusCode: resp.StatusCode, Code: code, Message: message}
	}
	return nil
}

func envelopeError(payload []byte) (string, string) {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", ""
	}
	return envelope.Code, envelope.Message
}
