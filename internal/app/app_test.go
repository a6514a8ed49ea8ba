package app

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mkoering/snowfake/internal/testutil"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	eng, _ := testutil.NewEngine(t)
	return New(eng, zerolog.Nop())
}

func login(t *testing.T, a *App, database, schema string) string {
	t.Helper()
	url := "/session/v1/login-request"
	if database != "" || schema != "" {
		url += fmt.Sprintf("?databaseName=%s&schemaName=%s", database, schema)
	}
	req := httptest.NewRequest(http.MethodPost, url, nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if !resp.Success || resp.Data.Token == "" {
		t.Fatalf("login response = %s", rec.Body.String())
	}
	return resp.Data.Token
}

func postQuery(t *testing.T, a *App, token, sqlText string, gzipped bool) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"sqlText": sqlText})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var body bytes.Buffer
	if gzipped {
		zw := gzip.NewWriter(&body)
		if _, err := zw.Write(payload); err != nil {
			t.Fatalf("gzip request: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("close gzip writer: %v", err)
		}
	} else {
		body.Write(payload)
	}
	req := httptest.NewRequest(http.MethodPost, "/queries/v1/query-request", &body)
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Snowflake Token=%q", token))
	}
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func TestLoginIssuesToken(t *testing.T) {
	a := newTestApp(t)
	first := login(t, a, "db1", "schema1")
	second := login(t, a, "", "")
	if first == second {
		t.Fatal("tokens are not unique per login")
	}
	if a.SessionCount() != 2 {
		t.Fatalf("session count = %d, want 2", a.SessionCount())
	}
}

func TestQueryRoundTrip(t *testing.T) {
	a := newTestApp(t)
	token := login(t, a, "", "")

	for _, stmt := range []string{
		"CREATE TABLE example (id INTEGER, name TEXT)",
		"INSERT INTO example VALUES (1, 'one'), (2, 'two')",
	} {
		rec := postQuery(t, a, token, stmt, false)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body %s", stmt, rec.Code, rec.Body.String())
		}
	}

	rec := postQuery(t, a, token, "SELECT id, name FROM example ORDER BY id", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data struct {
			RowType []struct {
				Name string `json:"name"`
			} `json:"rowtype"`
			RowSet            [][]any `json:"rowset"`
			Total             int64   `json:"total"`
			QueryID           string  `json:"queryId"`
			QueryResultFormat string  `json:"queryResultFormat"`
		} `json:"data"`
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("query response = %s", rec.Body.String())
	}
	if resp.Data.Total != 2 || len(resp.Data.RowSet) != 2 {
		t.Fatalf("rowset = %v, total = %d, want 2 rows", resp.Data.RowSet, resp.Data.Total)
	}
	if len(resp.Data.RowType) != 2 || resp.Data.RowType[0].Name != "id" {
		t.Fatalf("rowtype = %v, want id first", resp.Data.RowType)
	}
	if resp.Data.QueryResultFormat != "json" || resp.Data.QueryID == "" {
		t.Fatalf("result metadata = %+v", resp.Data)
	}
}

func TestQueryStatementFailure(t *testing.T) {
	a := newTestApp(t)
	token := login(t, a, "", "")

	rec := postQuery(t, a, token, "SELECT * FROM missing_table", false)
	// Statement failures travel inside a 200 envelope.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Code != "002003" || resp.Message == "" {
		t.Fatalf("response = %+v, want code 002003", resp)
	}
}

func TestQueryAuthFailures(t *testing.T) {
	a := newTestApp(t)
	token := login(t, a, "", "")

	cases := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"missing token", "", "390103"},
		{"unknown token", "not-a-session", "390104"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postQuery(t, a, tc.token, "SELECT 1", false)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			var resp struct {
				Success bool   `json:"success"`
				Code    string `json:"code"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Success || resp.Code != tc.wantCode {
				t.Fatalf("response = %+v, want code %s", resp, tc.wantCode)
			}
		})
	}

	// The valid token still works.
	rec := postQuery(t, a, token, "SELECT 1", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutRemovesSession(t *testing.T) {
	a := newTestApp(t)
	token := login(t, a, "", "")

	req := httptest.NewRequest(http.MethodPost, "/session?delete=true", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Snowflake Token=%q", token))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d, body %s", rec.Code, rec.Body.String())
	}
	if a.SessionCount() != 0 {
		t.Fatalf("session count = %d, want 0", a.SessionCount())
	}

	rec = postQuery(t, a, token, "SELECT 1", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", rec.Code)
	}
}

func TestSessionEndpointValidation(t *testing.T) {
	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without delete=true = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/session?delete=true", nil)
	rec = httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	a := newTestApp(t)
	for _, path := range []string{"/session/v1/login-request", "/queries/v1/query-request", "/session"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		a.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s status = %d, want 405", path, rec.Code)
		}
	}
}

func TestBadRequestBody(t *testing.T) {
	a := newTestApp(t)
	token := login(t, a, "", "")

	req := httptest.NewRequest(http.MethodPost, "/queries/v1/query-request", strings.NewReader("{not json"))
	req.Header.Set("Authorization", fmt.Sprintf("Snowflake Token=%q", token))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
