// Package app is the fake server's request-handling application: the
// login, query, and logout routes of the wire protocol, backed by a fake
// engine. The lifecycle manager consumes it as an opaque http.Handler.
package app

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkoering/snowfake/internal/engine"
	"github.com/mkoering/snowfake/internal/wire"
)

const tokenPrefix = `Snowflake Token="`

type App struct {
	engine *engine.Engine
	mux    *http.ServeMux
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*engine.Conn
}

func New(eng *engine.Engine, log zerolog.Logger) *App {
	a := &App{
		engine:   eng,
		mux:      http.NewServeMux(),
		log:      log,
		sessions: make(map[string]*engine.Conn),
	}
	a.mux.HandleFunc("/session/v1/login-request", a.loginHandler)
	a.mux.HandleFunc("/queries/v1/query-request", a.queryHandler)
	a.mux.HandleFunc("/session", a.sessionHandler)
	return a
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// SessionCount reports the number of live login sessions.
func (a *App) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *App) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w)
		return
	}
	database := r.URL.Query().Get("databaseName")
	schema := r.URL.Query().Get("schemaName")

	conn, err := a.engine.Connect(r.Context(), database, schema)
	if err != nil {
		a.log.Warn().Err(err).Str("database", database).Str("schema", schema).Msg("login rejected")
		a.writeJSON(w, http.StatusBadRequest, wire.LoginResponse{
			Success: false,
			Code:    wire.CodeStatementFailed,
			Message: err.Error(),
		})
		return
	}

	token := uuid.NewString()
	a.mu.Lock()
	a.sessions[token] = conn
	a.mu.Unlock()

	a.log.Info().Str("database", database).Str("schema", schema).Msg("session opened")
	a.writeJSON(w, http.StatusOK, wire.LoginResponse{
		Data:    &wire.LoginData{Token: token},
		Success: true,
	})
}

func (a *App) queryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w)
		return
	}
	conn, ok := a.authConn(w, r)
	if !ok {
		return
	}

	body, err := requestBody(r)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, wire.QueryResponse{
			Success: false,
			Code:    wire.CodeStatementFailed,
			Message: fmt.Sprintf("reading request body: %v", err),
		})
		return
	}
	var req wire.QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, wire.QueryResponse{
			Success: false,
			Code:    wire.CodeStatementFailed,
			Message: fmt.Sprintf("decoding request body: %v", err),
		})
		return
	}

	res, err := conn.Execute(r.Context(), req.SQLText)
	if err != nil {
		a.log.Warn().Err(err).Msg("statement failed")
		a.writeJSON(w, http.StatusOK, wire.QueryResponse{
			Success: false,
			Code:    wire.CodeStatementFailed,
			Message: err.Error(),
		})
		return
	}

	rowType := make([]wire.RowType, 0, len(res.Columns))
	for _, col := range res.Columns {
		rowType = append(rowType, wire.RowType{
			Name:     col.Name,
			Type:     col.Type,
			Nullable: col.Nullable,
		})
	}
	rowSet := res.Rows
	if rowSet == nil {
		rowSet = [][]any{}
	}
	a.log.Debug().Str("query_id", res.QueryID).Int64("rows", res.RowCount).Msg("statement executed")
	a.writeJSON(w, http.StatusOK, wire.QueryResponse{
		Data: &wire.QueryData{
			RowType:           rowType,
			RowSet:            rowSet,
			Total:             res.RowCount,
			QueryID:           res.QueryID,
			QueryResultFormat: wire.QueryResultFormat,
		},
		Success: true,
	})
}

func (a *App) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.methodNotAllowed(w)
		return
	}
	if r.URL.Query().Get("delete") != "true" {
		a.writeJSON(w, http.StatusBadRequest, wire.SessionResponse{
			Success: false,
			Message: "unsupported session operation",
		})
		return
	}
	token, ok := a.token(r)
	if !ok {
		a.writeJSON(w, http.StatusUnauthorized, wire.SessionResponse{
			Success: false,
			Code:    wire.CodeSessionTokenNotFound,
			Message: wire.MsgSessionTokenNotFound,
		})
		return
	}
	a.mu.Lock()
	conn, ok := a.sessions[token]
	delete(a.sessions, token)
	a.mu.Unlock()
	if ok {
		_ = conn.Close()
		a.log.Info().Msg("session closed")
	}
	a.writeJSON(w, http.StatusOK, wire.SessionResponse{Success: true})
}

// authConn maps the Authorization header to the session's connection,
// writing the protocol's 401 envelopes on failure.
func (a *App) authConn(w http.ResponseWriter, r *http.Request) (*engine.Conn, bool) {
	token, ok := a.token(r)
	if !ok {
		a.writeJSON(w, http.StatusUnauthorized, wire.QueryResponse{
			Success: false,
			Code:    wire.CodeSessionTokenNotFound,
			Message: wire.MsgSessionTokenNotFound,
		})
		return nil, false
	}
	a.mu.Lock()
	conn, ok := a.sessions[token]
	a.mu.Unlock()
	if !ok {
		a.writeJSON(w, http.StatusUnauthorized, wire.QueryResponse{
			Success: false,
			Code:    wire.CodeSessionGone,
			Message: wire.MsgSessionGone,
		})
		return nil, false
	}
	return conn, true
}

func (a *App) token(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, tokenPrefix) || !strings.HasSuffix(auth, `"`) {
		return "", false
	}
	token := auth[len(tokenPrefix) : len(auth)-1]
	return token, token != ""
}

func requestBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close() //nolint:errcheck
		reader = zr
	}
	return io.ReadAll(reader)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Warn().Err(err).Msg("write response")
	}
}

func (a *App) methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Allow", http.MethodPost)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
