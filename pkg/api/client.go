// Package api is the synchronous HTTP client for the intake backend. It
// implements the session, history, upload, and link endpoints plus the
// chunked message endpoint that feeds the stream decoder.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/willowlend/intake-client/pkg/chat"
)

// StatusError is returned for non-2xx responses so callers can branch on the
// status code (the session manager treats a failed history fetch as a stale
// session, not a fatal error).
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client wraps the base API origin, an http.Client, and the current bearer
// token provider. The zero timeout client default is deliberate for the
// streaming endpoint; per-request deadlines come from the caller's context.
type Client struct {
	baseURL string
	http    *http.Client
	token   chat.TokenProvider
}

var _ chat.SessionAPI = &Client{}
var _ chat.TurnStreamer = &Client{}
var _ chat.Uploader = &Client{}

func NewClient(baseURL string, token chat.TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		token:   token,
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if tok := c.token.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func (c *Client) CreateSession(ctx context.Context) (chat.Session, error) {
	var sess chat.Session
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", nil, &sess); err != nil {
		return chat.Session{}, err
	}
	return sess, nil
}

func (c *Client) GetHistory(ctx context.Context, sessionID string) (chat.History, error) {
	var hist chat.History
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+sessionID+"/history", nil, &hist); err != nil {
		return chat.History{}, err
	}
	return hist, nil
}

func (c *Client) LinkSession(ctx context.Context, sessionID string) (chat.LinkResult, error) {
	var res chat.LinkResult
	if err := c.doJSON(ctx, http.MethodPost, "/sessions/"+sessionID+"/link", nil, &res); err != nil {
		return chat.LinkResult{}, err
	}
	return res, nil
}

// OpenTurn posts the user message and returns a cancellable frame source over
// the chunked SSE-framed response body.
func (c *Client) OpenTurn(ctx context.Context, sessionID string, content string) (chat.FrameSource, error) {
	b, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions/"+sessionID+"/messages", bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Canceled
		}
		return nil, errors.Wrap(err, "open stream")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	log.Debug().Str("component", "api").Str("session_id", sessionID).Msg("turn stream opened")
	return chat.NewStreamReader(ctx, resp.Body), nil
}

// UploadFile sends a multipart document upload scoped to the session.
func (c *Client) UploadFile(ctx context.Context, sessionID string, file io.Reader, filename string, documentType string) (chat.UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return chat.UploadResult{}, errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, file); err != nil {
		return chat.UploadResult{}, errors.Wrap(err, "copy file")
	}
	if err := w.WriteField("document_type", documentType); err != nil {
		return chat.UploadResult{}, errors.Wrap(err, "write document_type")
	}
	if err := w.Close(); err != nil {
		return chat.UploadResult{}, errors.Wrap(err, "finish multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions/"+sessionID+"/files", &buf)
	if err != nil {
		return chat.UploadResult{}, errors.Wrap(err, "build upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return chat.UploadResult{}, errors.Wrap(err, "upload request")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return chat.UploadResult{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	var res chat.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return chat.UploadResult{}, errors.Wrap(err, "decode upload response")
	}
	return res, nil
}

// WithHTTPClient overrides the underlying http.Client (tests, custom TLS).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	if h != nil {
		c.http = h
	}
	return c
}

// WithTimeout sets a transport-level timeout for the synchronous endpoints.
// Streaming requests should rely on context cancellation instead.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.http.Timeout = d
	return c
}
