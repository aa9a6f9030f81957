package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrTurnInProgress is returned when a submission arrives while the previous
// turn is still streaming.
var ErrTurnInProgress = errors.New("a turn is already streaming")

// ErrEmptyMessage is returned for a blank submission.
var ErrEmptyMessage = errors.New("empty message")

// State is a point-in-time snapshot of the conversation. Messages is a copy;
// callers may retain it across further mutations.
type State struct {
	Messages     []DisplayMessage
	Streaming    bool
	CurrentTool  string
	FileRequest  *FileRequest
	AuthRequired bool
	Err          string
}

// Controller is the conversation state machine. It consumes decoded stream
// frames plus user actions and produces the authoritative in-memory state.
//
// Messages are append-only: the in-progress assistant text accumulates in a
// transient buffer and only becomes a list entry when the turn completes.
// Structured frames are inserted as their own entries at the point they
// arrive, interleaved with the accumulating text.
type Controller struct {
	streamer TurnStreamer
	sessions *SessionManager

	mu           sync.Mutex
	messages     []DisplayMessage
	streaming    bool
	currentTool  string
	fileReq      *FileRequest
	authRequired bool
	errMsg       string
	partial      strings.Builder
	cancelTurn   context.CancelFunc

	onChange func(State)
}

func NewController(streamer TurnStreamer, sessions *SessionManager) *Controller {
	return &Controller{streamer: streamer, sessions: sessions}
}

// OnChange registers a single observer invoked after every state mutation.
// It must be set before the first Send.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// State returns a snapshot of the current conversation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	msgs := make([]DisplayMessage, len(c.messages))
	copy(msgs, c.messages)
	var fr *FileRequest
	if c.fileReq != nil {
		cp := *c.fileReq
		fr = &cp
	}
	return State{
		Messages:     msgs,
		Streaming:    c.streaming,
		CurrentTool:  c.currentTool,
		FileRequest:  fr,
		AuthRequired: c.authRequired,
		Err:          c.errMsg,
	}
}

func (c *Controller) notifyLocked() {
	if c.onChange == nil {
		return
	}
	snap := c.snapshotLocked()
	fn := c.onChange
	c.mu.Unlock()
	fn(snap)
	c.mu.Lock()
}

// ReplayHistory seeds the message list from a resumed session. It replaces
// any existing messages and clears turn-scoped state.
func (c *Controller) ReplayHistory(msgs []DisplayMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]DisplayMessage(nil), msgs...)
	c.clearTurnStateLocked()
	c.errMsg = ""
	c.fileReq = nil
	c.authRequired = false
	c.notifyLocked()
}

// Reset drops all conversation state. Used by "start new chat" before the new
// session's history is replayed.
func (c *Controller) Reset() {
	c.ReplayHistory(nil)
}

// Send runs one conversational turn to completion: it appends the optimistic
// user message, opens the stream, and reduces frames until done, error, or
// cancellation. A blank submission or one arriving mid-stream is rejected
// without touching state.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	sess, ok := c.sessions.Current()
	if !ok {
		return ErrNoSession
	}

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return ErrTurnInProgress
	}
	if c.cancelTurn != nil {
		// abandon any dangling transport from a previous turn
		c.cancelTurn()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.cancelTurn = cancel
	c.streaming = true
	c.errMsg = ""
	c.fileReq = nil
	c.authRequired = false
	c.currentTool = ""
	c.partial.Reset()
	c.messages = append(c.messages, DisplayMessage{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Content:     text,
		MessageType: MessageTypeText,
		Timestamp:   time.Now(),
	})
	c.notifyLocked()
	c.mu.Unlock()

	src, err := c.streamer.OpenTurn(turnCtx, sess.SessionID, text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.abandonTurn()
		} else {
			c.failTurn(err)
		}
		return nil
	}
	defer func() { _ = src.Close() }()

	for {
		ev, err := src.Next()
		switch {
		case err == nil:
			c.applyFrame(ev)
		case errors.Is(err, io.EOF):
			c.finishTurn()
			return nil
		case errors.Is(err, context.Canceled):
			c.abandonTurn()
			return nil
		default:
			c.failTurn(err)
			return nil
		}
	}
}

// CancelTurn abandons the in-flight turn's transport, if any. The abandoned
// text buffer is discarded without producing an error.
func (c *Controller) CancelTurn() {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) applyFrame(ev StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Name {
	case EventText:
		if s, ok := ev.Payload["content"].(string); ok {
			c.partial.WriteString(s)
		}
	case EventToolStart:
		if s, ok := ev.Payload["tool"].(string); ok {
			c.currentTool = s
		}
	case EventStructured:
		msgType := MessageTypeStructured
		if s, ok := ev.Payload["type"].(string); ok && s != "" {
			msgType = s
		}
		c.messages = append(c.messages, DisplayMessage{
			ID:          uuid.NewString(),
			Role:        RoleAssistant,
			Content:     "",
			MessageType: msgType,
			Metadata:    ev.Payload,
			Timestamp:   time.Now(),
		})
	case EventFileRequest:
		fr := &FileRequest{}
		if s, ok := ev.Payload["document_type"].(string); ok {
			fr.DocumentType = s
		}
		if s, ok := ev.Payload["reason"].(string); ok {
			fr.Reason = s
		}
		c.fileReq = fr
	case EventAuthRequired:
		c.authRequired = true
	default:
		log.Debug().Str("component", "chat").Str("event", ev.Name).Msg("ignoring unknown stream event")
		return
	}
	c.notifyLocked()
}

func (c *Controller) finishTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text := c.partial.String(); text != "" {
		c.messages = append(c.messages, DisplayMessage{
			ID:          uuid.NewString(),
			Role:        RoleAssistant,
			Content:     text,
			MessageType: MessageTypeText,
			Timestamp:   time.Now(),
		})
	}
	c.clearTurnStateLocked()
	c.notifyLocked()
}

func (c *Controller) abandonTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearTurnStateLocked()
	c.notifyLocked()
}

func (c *Controller) failTurn(err error) {
	log.Warn().Err(err).Str("component", "chat").Msg("turn failed")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = "Something went wrong. Please try again."
	c.clearTurnStateLocked()
	c.notifyLocked()
}

func (c *Controller) clearTurnStateLocked() {
	c.streaming = false
	c.currentTool = ""
	c.partial.Reset()
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
}

// noteUpload records a successful document upload as a file_upload message and
// clears the pending file request. Used by the upload coordinator.
func (c *Controller) noteUpload(res UploadResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, DisplayMessage{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Content:     res.Filename,
		MessageType: MessageTypeFileUpload,
		Metadata: map[string]any{
			"document_id":   res.DocumentID,
			"filename":      res.Filename,
			"document_type": res.DocumentType,
			"status":        res.Status,
		},
		Timestamp: time.Now(),
	})
	c.fileReq = nil
	c.notifyLocked()
}

// activeFileRequest returns the pending file request, if any.
func (c *Controller) activeFileRequest() *FileRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fileReq == nil {
		return nil
	}
	cp := *c.fileReq
	return &cp
}
