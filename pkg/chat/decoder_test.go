package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(d *StreamDecoder, chunks ...string) []StreamEvent {
	var out []StreamEvent
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return out
}

func TestStreamDecoder_BasicSequence(t *testing.T) {
	d := &StreamDecoder{}
	events := d.Feed("event: text\ndata: {\"content\":\"Hi\"}\nevent: text\ndata: {\"content\":\" there\"}\nevent: done\ndata: {}\n")

	require.Len(t, events, 2)
	require.Equal(t, EventText, events[0].Name)
	require.Equal(t, "Hi", events[0].Payload["content"])
	require.Equal(t, " there", events[1].Payload["content"])
	require.True(t, d.Done())
}

func TestStreamDecoder_ChunkBoundariesDoNotMatter(t *testing.T) {
	stream := "event: text\ndata: {\"content\":\"Hello\"}\nevent: structured\ndata: {\"type\":\"offer_cards\",\"offers\":[1,2]}\nevent: done\ndata: {}\n"

	whole := &StreamDecoder{}
	want := whole.Feed(stream)
	require.Len(t, want, 2)

	// every split point, including mid-line and mid-JSON-value
	for i := 1; i < len(stream)-1; i++ {
		d := &StreamDecoder{}
		got := feedAll(d, stream[:i], stream[i:])
		require.Equal(t, want, got, "split at %d", i)
		require.True(t, d.Done(), "split at %d", i)
	}

	// byte-at-a-time
	d := &StreamDecoder{}
	var got []StreamEvent
	for i := 0; i < len(stream); i++ {
		got = append(got, d.Feed(stream[i:i+1])...)
	}
	require.Equal(t, want, got)
	require.True(t, d.Done())
}

func TestStreamDecoder_MalformedJSONIsSkipped(t *testing.T) {
	d := &StreamDecoder{}
	events := feedAll(d,
		"event: text\n",
		"data: {not json}\n",
		"event: text\n",
		"data: {\"content\":\"ok\"}\n",
	)
	require.Len(t, events, 1)
	require.Equal(t, "ok", events[0].Payload["content"])
	require.False(t, d.Done())
}

func TestStreamDecoder_DataWithoutEventIsDropped(t *testing.T) {
	d := &StreamDecoder{}
	events := feedAll(d, "data: {\"content\":\"orphan\"}\n", "event: text\ndata: {\"content\":\"kept\"}\n")
	require.Len(t, events, 1)
	require.Equal(t, "kept", events[0].Payload["content"])
}

func TestStreamDecoder_EventNameResetsAfterData(t *testing.T) {
	d := &StreamDecoder{}
	events := feedAll(d,
		"event: text\ndata: {\"content\":\"a\"}\n",
		"data: {\"content\":\"b\"}\n", // no event line, must not reuse "text"
	)
	require.Len(t, events, 1)
}

func TestStreamDecoder_IncompleteLineStaysBuffered(t *testing.T) {
	d := &StreamDecoder{}
	require.Empty(t, d.Feed("event: text\ndata: {\"content\":"))
	events := d.Feed("\"late\"}\n")
	require.Len(t, events, 1)
	require.Equal(t, "late", events[0].Payload["content"])
}

func TestStreamDecoder_StopsAfterDone(t *testing.T) {
	d := &StreamDecoder{}
	events := d.Feed("event: done\ndata: {}\nevent: text\ndata: {\"content\":\"after\"}\n")
	require.Empty(t, events)
	require.True(t, d.Done())
	require.Empty(t, d.Feed("event: text\ndata: {\"content\":\"more\"}\n"))
}
