// Package wire holds the JSON envelopes exchanged between the fake server
// application and the connector's HTTP client. The result format is a
// plain JSON rowset; the real service's Arrow encoding is out of scope.
package wire

// Error codes and messages mirror the service the fake stands in for, so
// client-side error mapping behaves the same against either endpoint.
const (
	CodeSessionTokenNotFound = "390103"
	CodeSessionGone          = "390104"
	CodeStatementFailed      = "002003"

	MsgSessionTokenNotFound = "Session token not found in the request data."
	MsgSessionGone          = "User must login again to access the service."
)

// QueryResultFormat is the only result encoding the fake server emits.
const QueryResultFormat = "json"

type LoginData struct {
	Token string `json:"token"`
}

type LoginResponse struct {
	Data    *LoginData `json:"data"`
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
}

type QueryRequest struct {
	SQLText string `json:"sqlText"`
}

type RowType struct {
	Name     string `json:"name"`
	Database string `json:"database"`
	Schema   string `json:"schema"`
	Table    string `json:"table"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type QueryData struct {
	RowType           []RowType `json:"rowtype"`
	RowSet            [][]any   `json:"rowset"`
	Total             int64     `json:"total"`
	QueryID           string    `json:"queryId"`
	QueryResultFormat string    `json:"queryResultFormat"`
}

type QueryResponse struct {
	Data    *QueryData `json:"data"`
	Success bool       `json:"success"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
}

type SessionResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
