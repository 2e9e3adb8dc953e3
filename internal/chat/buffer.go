package chat

import "strings"

// Chunk is one incremental text fragment from the model transport. Stop is
// set on the last fragment of a completion.
type Chunk struct {
	Content string
	Stop    bool
}

// Event describes one observable unit of a buffered streaming response.
//
// Message is the exact text the active platform message should show right
// now; it grows until EndOfMessage marks it final. Chunk is the raw
// increment folded into this event, empty on a pure finalize-and-roll-over
// event, so concatenating the Chunk fields of all events reproduces the raw
// model output byte for byte. Response is the full unsplit accumulation so
// far, independent of any segmenting.
type Event struct {
	Message  string
	Chunk    string
	Response string

	// EndOfMessage is set exactly when Message will never change again,
	// either because a split boundary was crossed or because the response
	// ended while this segment was open.
	EndOfMessage bool
	// EndOfResponse is set exactly once, on the stop-marked chunk.
	EndOfResponse bool
	// NewMessage is set when this event starts a fresh segment after a
	// split. The very first segment of a response is not "new".
	NewMessage bool
}

// Buffer re-chunks a token-by-token completion stream into platform-sized
// message segments. It accumulates incoming chunks and cuts the open segment
// with Split whenever it reaches the limit, emitting a finalize event for
// the closed segment followed by an event opening the next one.
//
// A Buffer belongs to exactly one streaming response and does no I/O; feed
// it chunks with Push and render the returned events in order. It never
// loses or duplicates source text: inserted fence markers aside, the
// finalized segments plus the open tail always concatenate back to Response.
type Buffer struct {
	limit int
	full  strings.Builder
	open  string
}

// NewBuffer returns a coordinator that cuts segments at limit characters.
// The limit should already account for a fence-rebalance safety margin;
// values below 8 barely fit a fence marker and are clamped there.
func NewBuffer(limit int) *Buffer {
	if limit < minSegmentLimit {
		limit = minSegmentLimit
	}
	return &Buffer{limit: limit}
}

// minSegmentLimit is the smallest workable segment length: one fence marker
// plus newline must fit with room to spare.
const minSegmentLimit = 8

// Push folds one chunk into the buffer and returns the resulting events,
// in emission order. A chunk larger than the limit yields several splits;
// the stop-marked chunk always yields a terminal event with EndOfResponse
// set. Push must not be called again after that.
func (b *Buffer) Push(c Chunk) []Event {
	b.full.WriteString(c.Content)
	b.open += c.Content
	full := b.full.String()

	var events []Event
	opened := false
	for {
		head, tail, split := Split(b.open, b.limit)
		if !split {
			break
		}
		events = append(events, Event{
			Message:      head,
			Response:     full,
			EndOfMessage: true,
			NewMessage:   opened,
		})
		b.open = tail
		opened = true
	}

	return append(events, Event{
		Message:       b.open,
		Chunk:         c.Content,
		Response:      full,
		EndOfMessage:  c.Stop,
		EndOfResponse: c.Stop,
		NewMessage:    opened,
	})
}

// Response returns the full accumulated model output seen so far.
func (b *Buffer) Response() string {
	return b.full.String()
}
