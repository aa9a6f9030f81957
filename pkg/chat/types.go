package chat

import (
	"context"
	"io"
	"time"
)

// Session identifies one durable conversation, independent of auth state.
type Session struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message types beyond plain text.
const (
	MessageTypeText       = "text"
	MessageTypeStructured = "structured"
	MessageTypeFileUpload = "file_upload"
)

// DisplayMessage is one rendered conversation entry. IDs are locally generated
// for optimistic entries and server-generated for history entries.
type DisplayMessage struct {
	ID          string         `json:"id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	MessageType string         `json:"message_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// FileRequest is the pending server-side ask for a document. At most one is
// active at a time.
type FileRequest struct {
	DocumentType string `json:"document_type"`
	Reason       string `json:"reason"`
}

// Stream event names emitted by the message endpoint.
const (
	EventText         = "text"
	EventToolStart    = "tool_start"
	EventStructured   = "structured"
	EventFileRequest  = "file_request"
	EventAuthRequired = "auth_required"
	EventDone         = "done"
)

// StreamEvent is one decoded frame of a streamed turn. It only exists during
// an active stream's lifetime.
type StreamEvent struct {
	Name    string
	Payload map[string]any
}

// History is the server's view of a resumed conversation.
type History struct {
	SessionID      string           `json:"session_id"`
	ConversationID string           `json:"conversation_id"`
	CurrentPhase   string           `json:"current_phase"`
	Messages       []DisplayMessage `json:"messages"`
}

// LinkResult is the response of linking a session to an authenticated identity.
type LinkResult struct {
	Linked        bool   `json:"linked"`
	UserID        string `json:"user_id"`
	ApplicationID string `json:"application_id,omitempty"`
}

// UploadResult is the server's record of an accepted document.
type UploadResult struct {
	DocumentID   string `json:"document_id"`
	Filename     string `json:"filename"`
	DocumentType string `json:"document_type"`
	Status       string `json:"status"`
}

// SessionAPI is the synchronous request/response surface the session manager
// depends on.
type SessionAPI interface {
	CreateSession(ctx context.Context) (Session, error)
	GetHistory(ctx context.Context, sessionID string) (History, error)
	LinkSession(ctx context.Context, sessionID string) (LinkResult, error)
}

// FrameSource is a cancellable iterator over decoded stream frames. Next
// returns io.EOF when the stream ends (explicit done or end of body) and
// context.Canceled when the turn was abandoned by the client.
type FrameSource interface {
	Next() (StreamEvent, error)
	Close() error
}

// TurnStreamer opens the chunked message endpoint for one turn.
type TurnStreamer interface {
	OpenTurn(ctx context.Context, sessionID string, content string) (FrameSource, error)
}

// Uploader sends one document scoped to a session.
type Uploader interface {
	UploadFile(ctx context.Context, sessionID string, file io.Reader, filename string, documentType string) (UploadResult, error)
}

// TokenProvider exposes the current opaque bearer token. An empty token means
// the caller is not authenticated yet.
type TokenProvider interface {
	Token() string
}

// TokenFunc adapts a func to TokenProvider.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }
