package chat

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	createFn  func(ctx context.Context) (Session, error)
	historyFn func(ctx context.Context, id string) (History, error)
	linkFn    func(ctx context.Context, id string) (LinkResult, error)
}

func (s *stubAPI) CreateSession(ctx context.Context) (Session, error) {
	if s.createFn == nil {
		return Session{SessionID: "sess-1", ConversationID: "conv-1"}, nil
	}
	return s.createFn(ctx)
}

func (s *stubAPI) GetHistory(ctx context.Context, id string) (History, error) {
	if s.historyFn == nil {
		return History{SessionID: id}, nil
	}
	return s.historyFn(ctx, id)
}

func (s *stubAPI) LinkSession(ctx context.Context, id string) (LinkResult, error) {
	if s.linkFn == nil {
		return LinkResult{Linked: true, UserID: "user-1"}, nil
	}
	return s.linkFn(ctx, id)
}

type scriptedSource struct {
	frames []StreamEvent
	err    error
	i      int
	closed bool
}

func (s *scriptedSource) Next() (StreamEvent, error) {
	if s.i < len(s.frames) {
		ev := s.frames[s.i]
		s.i++
		return ev, nil
	}
	if s.err != nil {
		return StreamEvent{}, s.err
	}
	return StreamEvent{}, io.EOF
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

type scriptedStreamer struct {
	sources []*scriptedSource
	openErr error
	calls   []string
}

func (s *scriptedStreamer) OpenTurn(_ context.Context, _ string, content string) (FrameSource, error) {
	s.calls = append(s.calls, content)
	if s.openErr != nil {
		return nil, s.openErr
	}
	if len(s.sources) == 0 {
		return &scriptedSource{}, nil
	}
	src := s.sources[0]
	s.sources = s.sources[1:]
	return src, nil
}

func newTestController(t *testing.T, streamer TurnStreamer) (*Controller, *SessionManager) {
	t.Helper()
	sm := NewSessionManager(&stubAPI{}, NewMemorySlotStore(), TokenFunc(func() string { return "" }))
	_, _, err := sm.ResumeOrCreate(context.Background())
	require.NoError(t, err)
	return NewController(streamer, sm), sm
}

func textFrame(s string) StreamEvent {
	return StreamEvent{Name: EventText, Payload: map[string]any{"content": s}}
}

func TestController_TextAccumulatesIntoOneAssistantMessage(t *testing.T) {
	streamer := &scriptedStreamer{sources: []*scriptedSource{
		{frames: []StreamEvent{textFrame("Hi"), textFrame(" there")}},
	}}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "hello"))

	st := ctrl.State()
	require.False(t, st.Streaming)
	require.Len(t, st.Messages, 2)
	require.Equal(t, RoleUser, st.Messages[0].Role)
	require.Equal(t, "hello", st.Messages[0].Content)
	require.Equal(t, RoleAssistant, st.Messages[1].Role)
	require.Equal(t, "Hi there", st.Messages[1].Content)
}

func TestController_StructuredInterleavesWithoutLosingText(t *testing.T) {
	streamer := &scriptedStreamer{sources: []*scriptedSource{
		{frames: []StreamEvent{
			textFrame("before"),
			{Name: EventStructured, Payload: map[string]any{"type": "offer_cards", "offers": []any{"a"}}},
			textFrame(" after"),
		}},
	}}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "show offers"))

	st := ctrl.State()
	require.Len(t, st.Messages, 3)
	require.Equal(t, "offer_cards", st.Messages[1].MessageType)
	require.Equal(t, "", st.Messages[1].Content)
	require.Equal(t, "offer_cards", st.Messages[1].Metadata["type"])
	// text accumulated around the structured insert still lands, after it
	require.Equal(t, "before after", st.Messages[2].Content)
}

func TestController_FileRequestSurvivesTurnCompletion(t *testing.T) {
	streamer := &scriptedStreamer{sources: []*scriptedSource{
		{frames: []StreamEvent{
			{Name: EventFileRequest, Payload: map[string]any{"document_type": "bank_statement", "reason": "income check"}},
		}},
	}}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "here you go"))

	st := ctrl.State()
	require.False(t, st.Streaming)
	require.NotNil(t, st.FileRequest)
	require.Equal(t, "bank_statement", st.FileRequest.DocumentType)
}

func TestController_NewSubmissionClearsSideFlags(t *testing.T) {
	streamer := &scriptedStreamer{sources: []*scriptedSource{
		{frames: []StreamEvent{
			{Name: EventFileRequest, Payload: map[string]any{"document_type": "payslip"}},
			{Name: EventAuthRequired, Payload: map[string]any{}},
		}},
		{frames: []StreamEvent{textFrame("ok")}},
	}}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "first"))
	st := ctrl.State()
	require.NotNil(t, st.FileRequest)
	require.True(t, st.AuthRequired)

	require.NoError(t, ctrl.Send(context.Background(), "second"))
	st = ctrl.State()
	require.Nil(t, st.FileRequest)
	require.False(t, st.AuthRequired)
}

func TestController_ToolStartOnlySetsIndicator(t *testing.T) {
	var sawTool bool
	streamer := &scriptedStreamer{sources: []*scriptedSource{
		{frames: []StreamEvent{
			{Name: EventToolStart, Payload: map[string]any{"tool": "credit_check"}},
			textFrame("done checking"),
		}},
	}}
	ctrl, _ := newTestController(t, streamer)
	ctrl.OnChange(func(st State) {
		if st.CurrentTool == "credit_check" {
			sawTool = true
		}
	})

	require.NoError(t, ctrl.Send(context.Background(), "check me"))

	require.True(t, sawTool)
	st := ctrl.State()
	require.Equal(t, "", st.CurrentTool)
	require.Len(t, st.Messages, 2)
}

func TestController_TransportErrorAbandonsPartialText(t *testing.T) {
	streamer := &scriptedStreamer{sources: []*scriptedSource{
		{frames: []StreamEvent{textFrame("partial")}, err: errors.New("network down")},
	}}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "hello"))

	st := ctrl.State()
	require.False(t, st.Streaming)
	require.NotEmpty(t, st.Err)
	// only the optimistic user message, no partial assistant commit
	require.Len(t, st.Messages, 1)
	require.Equal(t, RoleUser, st.Messages[0].Role)
}

func TestController_CancellationProducesNoError(t *testing.T) {
	streamer := &scriptedStreamer{sources: []*scriptedSource{
		{frames: []StreamEvent{textFrame("partial")}, err: context.Canceled},
	}}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "hello"))

	st := ctrl.State()
	require.False(t, st.Streaming)
	require.Empty(t, st.Err)
	require.Len(t, st.Messages, 1)
}

func TestController_RejectsEmptyAndConcurrentSubmissions(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingStreamer{release: release, started: make(chan struct{})}
	ctrl, _ := newTestController(t, blocking)

	require.ErrorIs(t, ctrl.Send(context.Background(), "   "), ErrEmptyMessage)

	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Send(context.Background(), "first") }()
	<-blocking.started

	require.ErrorIs(t, ctrl.Send(context.Background(), "second"), ErrTurnInProgress)
	st := ctrl.State()
	require.Len(t, st.Messages, 1) // the rejected submission appended nothing

	close(release)
	require.NoError(t, <-errCh)
}

type blockingStreamer struct {
	release chan struct{}
	started chan struct{}
	once    bool
}

func (b *blockingStreamer) OpenTurn(ctx context.Context, _ string, _ string) (FrameSource, error) {
	if !b.once {
		b.once = true
		close(b.started)
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return &scriptedSource{}, nil
}

func TestController_OpenTurnFailureEndsTurnWithError(t *testing.T) {
	streamer := &scriptedStreamer{openErr: errors.New("dial failed")}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "hello"))

	st := ctrl.State()
	require.False(t, st.Streaming)
	require.NotEmpty(t, st.Err)
}

func TestController_SourceClosedAfterTurn(t *testing.T) {
	src := &scriptedSource{frames: []StreamEvent{textFrame("x")}}
	streamer := &scriptedStreamer{sources: []*scriptedSource{src}}
	ctrl, _ := newTestController(t, streamer)

	require.NoError(t, ctrl.Send(context.Background(), "hello"))
	require.True(t, src.closed)
}

func TestController_ReplayHistorySeedsMessages(t *testing.T) {
	ctrl, _ := newTestController(t, &scriptedStreamer{})
	ctrl.ReplayHistory([]DisplayMessage{
		{ID: "srv-1", Role: RoleAssistant, Content: "Welcome!", MessageType: MessageTypeText},
	})

	st := ctrl.State()
	require.Len(t, st.Messages, 1)
	require.Equal(t, "srv-1", st.Messages[0].ID)
}
