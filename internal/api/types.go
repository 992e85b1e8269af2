// ABOUTME: Wire types for the query-bot REST surface.
// ABOUTME: Shapes mirror the server DTOs; timestamps are RFC 3339 strings on the wire.

package api

import "time"

// Role identifies who authored a chat entry.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Entry is one request/response exchange line in a conversation history.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// AskRequest is the body for POST /chat/ask.
// IdempotencyKey lets the server drop duplicate submissions of the same ask.
type AskRequest struct {
	TargetID       int64  `json:"targetId"`
	Content        string `json:"content"`
	SessionID      int64  `json:"sessionId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// ChatResponse is the authoritative server view of a conversation after an
// ask or a history load. History always supersedes any local state.
type ChatResponse struct {
	SessionID int64         `json:"sessionId"`
	Reply     string        `json:"reply,omitempty"`
	History   []Entry       `json:"history"`
	Artifact  *ArtifactLink `json:"artifactLink,omitempty"`
}

// SessionSummary is one row of GET /chat/sessions.
type SessionSummary struct {
	ID        int64     `json:"id"`
	TargetID  int64     `json:"targetId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	CardID    *int64    `json:"artifactCardId,omitempty"`
	CardURL   string    `json:"artifactCardUrl,omitempty"`
}

// TargetSummary describes a registered database target. SchemaReady gates
// whether asks against the target are accepted.
type TargetSummary struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DBType       string `json:"dbType"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DatabaseName string `json:"databaseName"`
	SchemaReady  bool   `json:"schemaReady"`
}

// ExecuteRequest is the body for POST /db/execute.
type ExecuteRequest struct {
	TargetID int64  `json:"targetId"`
	SQL      string `json:"sql"`
}

// QueryResult holds the rows returned by an executed read-only query.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// CardRequest is the body for POST /artifact/card. The caller must already
// hold the user's confirmation before issuing this request.
type CardRequest struct {
	SessionID   int64  `json:"sessionId"`
	Query       string `json:"query"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// ArtifactLink is the saved card reference returned by the artifact endpoint.
type ArtifactLink struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// ArtifactStatus reports whether the artifact integration is configured.
type ArtifactStatus struct {
	Available bool `json:"available"`
}

// errorBody is the server's error envelope.
type errorBody struct {
	Message string `json:"message"`
}
