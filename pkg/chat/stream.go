package chat

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// StreamReader adapts a chunked response body into a FrameSource. It reads the
// body chunk by chunk, feeds the decoder, and hands out events one at a time.
// End of body without an explicit done event still ends the stream cleanly
// (treated as an implicit done).
type StreamReader struct {
	ctx     context.Context
	body    io.ReadCloser
	dec     StreamDecoder
	pending []StreamEvent
	buf     []byte
	ended   bool
}

func NewStreamReader(ctx context.Context, body io.ReadCloser) *StreamReader {
	if ctx == nil {
		ctx = context.Background()
	}
	return &StreamReader{
		ctx:  ctx,
		body: body,
		buf:  make([]byte, 4096),
	}
}

// Next returns the next decoded event. It returns io.EOF once the stream is
// complete and context.Canceled if the turn was abandoned by the caller;
// everything else is a transport error.
func (r *StreamReader) Next() (StreamEvent, error) {
	for {
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return ev, nil
		}
		if r.ended || r.dec.Done() {
			return StreamEvent{}, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return StreamEvent{}, context.Canceled
		}

		n, err := r.body.Read(r.buf)
		if n > 0 {
			r.pending = r.dec.Feed(string(r.buf[:n]))
		}
		if err != nil {
			r.ended = true
			switch {
			case errors.Is(err, io.EOF):
				// implicit done, drain whatever decoded
			case r.ctx.Err() != nil:
				r.pending = nil
				return StreamEvent{}, context.Canceled
			default:
				r.pending = nil
				return StreamEvent{}, errors.Wrap(err, "stream read")
			}
		}
	}
}

func (r *StreamReader) Close() error {
	if r == nil || r.body == nil {
		return nil
	}
	return r.body.Close()
}
