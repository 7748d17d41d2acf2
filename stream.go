package jlhttp

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Wire-format defaults understood by StreamProcessor.
const (
	DefaultFrameDelimiter = "\n\n"
	DefaultDataPrefix     = "data:"
	DefaultDoneSentinel   = "[DONE]"
)

// StreamPhase describes where a StreamProcessor is in its lifecycle.
type StreamPhase int

const (
	// PhaseIdle means no input has been fed yet.
	PhaseIdle StreamPhase = iota
	// PhaseAccumulating means input is flowing and frames may still arrive.
	PhaseAccumulating
	// PhaseCompleted means the terminal sentinel was seen.
	PhaseCompleted
	// PhaseAborted means the consumer gave up on the stream.
	PhaseAborted
)

func (p StreamPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccumulating:
		return "accumulating"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase accepts no further input.
func (p StreamPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted
}

// StreamMessage is handed to the message callback once per emitted frame.
// The value slices are copies; mutating them does not affect the processor.
type StreamMessage struct {
	// Text is this frame's payload.
	Text string
	// Values are this frame's decoded values.
	Values []Value
	// AllText is every payload so far, concatenated.
	AllText string
	// AllValues are all decoded values so far, in arrival order.
	AllValues []Value
}

// StreamState is a point-in-time snapshot of everything processed so far.
// Done is true once the terminal sentinel has been seen.
type StreamState struct {
	Text   string
	Values []Value
	Done   bool
}

// StreamOption configures a StreamProcessor.
type StreamOption func(*StreamProcessor)

// WithFrameDelimiter changes the byte sequence separating frames.
func WithFrameDelimiter(delimiter string) StreamOption {
	return func(p *StreamProcessor) {
		if delimiter != "" {
			p.delimiter = delimiter
		}
	}
}

// WithDataPrefix changes the payload line prefix that gets stripped.
func WithDataPrefix(prefix string) StreamOption {
	return func(p *StreamProcessor) {
		p.prefix = prefix
	}
}

// WithDoneSentinel changes the payload that marks stream completion. An
// empty sentinel disables completion detection.
func WithDoneSentinel(sentinel string) StreamOption {
	return func(p *StreamProcessor) {
		p.sentinel = sentinel
	}
}

// WithJSONDecoding toggles JSON decoding of frame payloads.
func WithJSONDecoding(enabled bool) StreamOption {
	return func(p *StreamProcessor) {
		p.decode = enabled
	}
}

// WithRawFrames disables wire-format stripping entirely: each
// delimiter-separated segment becomes the payload verbatim and metadata
// lines are not interpreted.
func WithRawFrames() StreamOption {
	return func(p *StreamProcessor) {
		p.raw = true
	}
}

// WithStreamLogger routes processor warnings to the given logger.
func WithStreamLogger(logger Logger) StreamOption {
	return func(p *StreamProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMessageHandler registers the synchronous per-frame callback.
func WithMessageHandler(fn func(StreamMessage)) StreamOption {
	return func(p *StreamProcessor) {
		p.onMessage = fn
	}
}

// StreamProcessor converts arbitrarily-chunked stream text into logical
// frames. Chunks are pushed in via Feed; whenever a complete frame is
// buffered it is parsed, optionally JSON-decoded, and emitted through the
// message callback together with cumulative state.
//
// A processor serves exactly one logical stream and is not safe for
// concurrent use; the engine feeds it from a single pump goroutine.
type StreamProcessor struct {
	delimiter string
	prefix    string
	sentinel  string
	decode    bool
	raw       bool
	logger    Logger
	onMessage func(StreamMessage)

	phase   StreamPhase
	buf     []byte
	flushed bool

	frames         int
	decodeFailures int

	allText   strings.Builder
	allValues []Value
	jsonParts []string
}

// NewStreamProcessor creates a processor with SSE-style defaults: "\n\n"
// delimiter, "data:" payload prefix, "[DONE]" sentinel, JSON decoding on.
func NewStreamProcessor(opts ...StreamOption) *StreamProcessor {
	p := &StreamProcessor{
		delimiter: DefaultFrameDelimiter,
		prefix:    DefaultDataPrefix,
		sentinel:  DefaultDoneSentinel,
		decode:    true,
		logger:    NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed appends one transport chunk and drains every complete frame from the
// internal buffer, invoking the message callback synchronously for each.
// Chunk boundaries carry no meaning: a frame may span any number of chunks
// and a single chunk may complete several frames. Once the processor is
// terminal the chunk is dropped with a warning and the phase is returned
// unchanged.
func (p *StreamProcessor) Feed(chunk string) StreamPhase {
	if p.phase.Terminal() {
		p.logger.Warn("Stream input after terminal phase dropped", "phase", p.phase.String(), "chunkSize", len(chunk))
		return p.phase
	}

	p.phase = PhaseAccumulating
	p.buf = append(p.buf, chunk...)

	delim := []byte(p.delimiter)
	for !p.phase.Terminal() {
		idx := bytes.Index(p.buf, delim)
		if idx < 0 {
			break
		}
		segment := string(p.buf[:idx])
		p.buf = p.buf[idx+len(delim):]
		p.processSegment(segment)
	}
	return p.phase
}

// Flush processes any unterminated remainder left in the buffer through the
// normal framing rules. Call it once at end of stream; remainders only
// exist when the producer closed mid-frame, so the recovery is logged as a
// warning.
func (p *StreamProcessor) Flush() StreamPhase {
	if p.phase.Terminal() {
		p.logger.Warn("Flush after terminal phase ignored", "phase", p.phase.String())
		return p.phase
	}
	if p.flushed {
		p.logger.Warn("Stream already flushed")
		return p.phase
	}
	p.flushed = true

	if len(p.buf) == 0 {
		return p.phase
	}
	remainder := string(p.buf)
	p.buf = nil
	p.logger.Warn("Stream ended with unterminated frame, recovering remainder", "size", len(remainder))
	p.processSegment(remainder)
	return p.phase
}

// Abort marks the stream aborted. Further input is dropped. Aborting a
// stream that already completed has no effect.
func (p *StreamProcessor) Abort() StreamPhase {
	if p.phase.Terminal() {
		p.logger.Warn("Abort after terminal phase ignored", "phase", p.phase.String())
		return p.phase
	}
	p.phase = PhaseAborted
	p.buf = nil
	return p.phase
}

// Phase returns the current lifecycle phase.
func (p *StreamProcessor) Phase() StreamPhase {
	return p.phase
}

// State returns a snapshot of everything processed so far. The value slice
// is a copy.
func (p *StreamProcessor) State() StreamState {
	return StreamState{
		Text:   p.allText.String(),
		Values: snapshotValues(p.allValues),
		Done:   p.phase == PhaseCompleted,
	}
}

// Frames returns how many frames have been emitted.
func (p *StreamProcessor) Frames() int {
	return p.frames
}

// DecodeFailures returns how many frame payloads failed to decode.
func (p *StreamProcessor) DecodeFailures() int {
	return p.decodeFailures
}

// AllJSON reconstructs one JSON array string of every successfully decoded
// payload so far. The retained payload texts are joined verbatim, so no
// value is re-serialized.
func (p *StreamProcessor) AllJSON() string {
	return "[" + strings.Join(p.jsonParts, ",") + "]"
}

// processSegment applies the framing rules to one complete segment and
// emits the resulting frame.
func (p *StreamProcessor) processSegment(segment string) {
	frame := p.parseFrame(segment)

	if p.sentinel != "" && frame.Text == p.sentinel {
		p.phase = PhaseCompleted
		if len(p.buf) > 0 {
			p.logger.Warn("Dropping buffered input after terminal sentinel", "size", len(p.buf))
		}
		p.buf = nil
		return
	}
	if frame.Text == "" {
		// Metadata-only frames and keep-alives carry nothing to emit.
		return
	}

	if p.decode {
		values, err := decodeValues(frame.Text, frameMeta{event: frame.Event, id: frame.ID, retry: frame.Retry})
		if err != nil {
			p.decodeFailures++
			p.logger.Warn("Frame payload is not valid JSON, emitting raw", "error", err.Error(), "size", len(frame.Text))
		} else {
			frame.Values = values
			p.jsonParts = append(p.jsonParts, frame.Text)
		}
	}

	p.emit(frame)
}

// parseFrame splits a segment into payload and metadata. In raw mode the
// segment is the payload as-is.
func (p *StreamProcessor) parseFrame(segment string) Frame {
	if p.raw {
		return Frame{Text: segment}
	}

	var frame Frame
	var payload strings.Builder
	for _, line := range strings.Split(segment, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case p.prefix != "" && strings.HasPrefix(line, p.prefix):
			// Payload lines join without separator.
			payload.WriteString(trimLeadingSpace(strings.TrimPrefix(line, p.prefix)))
		case strings.HasPrefix(line, "event:"):
			frame.Event = trimLeadingSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			frame.ID = trimLeadingSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "retry:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "retry:"))
			if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
				frame.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	frame.Text = payload.String()
	return frame
}

func (p *StreamProcessor) emit(frame Frame) {
	p.frames++
	p.allText.WriteString(frame.Text)
	p.allValues = append(p.allValues, frame.Values...)

	if p.onMessage == nil {
		return
	}
	p.onMessage(StreamMessage{
		Text:      frame.Text,
		Values:    snapshotValues(frame.Values),
		AllText:   p.allText.String(),
		AllValues: snapshotValues(p.allValues),
	})
}

// trimLeadingSpace removes the single optional space after a field prefix.
func trimLeadingSpace(s string) string {
	return strings.TrimPrefix(s, " ")
}

func snapshotValues(values []Value) []Value {
	if len(values) == 0 {
		return nil
	}
	out := make([]Value, len(values))
	copy(out, values)
	return out
}
