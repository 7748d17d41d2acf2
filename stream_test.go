package jlhttp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestStreamProcessorSequentialFrames(t *testing.T) {
	var messages []StreamMessage
	p := NewStreamProcessor(WithMessageHandler(func(msg StreamMessage) {
		messages = append(messages, msg)
	}))

	p.Feed("data: {\"a\":1}\n\n")
	p.Feed("data: {\"a\":2}\n\n")
	phase := p.Feed("data: [DONE]\n\n")

	if phase != PhaseCompleted {
		t.Errorf("Expected PhaseCompleted after sentinel, got %v", phase)
	}

	if len(messages) != 2 {
		t.Fatalf("Expected 2 callbacks, got %d", len(messages))
	}

	first, _ := messages[0].Values[0].Object()
	if first["a"] != float64(1) {
		t.Errorf("Expected first frame value a=1, got %v", first["a"])
	}

	second, _ := messages[1].Values[0].Object()
	if second["a"] != float64(2) {
		t.Errorf("Expected second frame value a=2, got %v", second["a"])
	}

	if len(messages[1].AllValues) != 2 {
		t.Errorf("Expected cumulative value list of 2, got %d", len(messages[1].AllValues))
	}

	state := p.State()
	if !state.Done {
		t.Error("Expected Done=true after sentinel frame")
	}
	if len(state.Values) != 2 {
		t.Errorf("Expected 2 accumulated values, got %d", len(state.Values))
	}
}

func TestStreamProcessorFrameSplitAcrossChunks(t *testing.T) {
	var messages []StreamMessage
	p := NewStreamProcessor(WithMessageHandler(func(msg StreamMessage) {
		messages = append(messages, msg)
	}))

	p.Feed("data: {\"a\"")
	if len(messages) != 0 {
		t.Fatalf("Expected no callback for incomplete frame, got %d", len(messages))
	}

	p.Feed(":1}\n\n")
	if len(messages) != 1 {
		t.Fatalf("Expected exactly 1 callback, got %d", len(messages))
	}

	obj, ok := messages[0].Values[0].Object()
	if !ok {
		t.Fatal("Expected object-shaped value")
	}
	if obj["a"] != float64(1) {
		t.Errorf("Expected a=1, got %v", obj["a"])
	}
}

// Chunk-boundary independence: any split of the same byte stream must yield
// the same accumulated values.
func TestStreamProcessorChunkBoundaryIndependence(t *testing.T) {
	stream := "data: {\"n\":1}\n\ndata: {\"n\":2}\n\ndata: {\"n\":3}\n\n"

	var reference []Value
	for split := 1; split < len(stream); split++ {
		p := NewStreamProcessor()
		p.Feed(stream[:split])
		p.Feed(stream[split:])
		p.Flush()

		values := p.State().Values
		if split == 1 {
			reference = values
			continue
		}
		if !reflect.DeepEqual(values, reference) {
			t.Fatalf("Split at %d produced %v, want %v", split, values, reference)
		}
	}

	if len(reference) != 3 {
		t.Errorf("Expected 3 values in reference run, got %d", len(reference))
	}
}

func TestStreamProcessorOneChunkManyFrames(t *testing.T) {
	count := 0
	p := NewStreamProcessor(WithMessageHandler(func(StreamMessage) { count++ }))

	p.Feed("data: 1\n\ndata: 2\n\ndata: 3\n\n")
	if count != 3 {
		t.Errorf("Expected 3 callbacks from one chunk, got %d", count)
	}
}

func TestStreamProcessorSentinelIsIdempotent(t *testing.T) {
	count := 0
	p := NewStreamProcessor(WithMessageHandler(func(StreamMessage) { count++ }))

	p.Feed("data: {\"a\":1}\n\ndata: [DONE]\n\n")
	before := p.State()

	phase := p.Feed("data: {\"a\":2}\n\n")
	if phase != PhaseCompleted {
		t.Errorf("Expected PhaseCompleted for post-terminal feed, got %v", phase)
	}
	if p.Flush() != PhaseCompleted {
		t.Error("Expected Flush after completion to be a no-op")
	}

	after := p.State()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Expected state unchanged after terminal input: before %+v, after %+v", before, after)
	}
	if count != 1 {
		t.Errorf("Expected 1 callback total, got %d", count)
	}
}

func TestStreamProcessorSentinelDropsBufferedRemainder(t *testing.T) {
	count := 0
	p := NewStreamProcessor(WithMessageHandler(func(StreamMessage) { count++ }))

	p.Feed("data: [DONE]\n\ndata: {\"a\":1}\n\n")
	if count != 0 {
		t.Errorf("Expected no callbacks after sentinel, got %d", count)
	}
	if p.Phase() != PhaseCompleted {
		t.Errorf("Expected PhaseCompleted, got %v", p.Phase())
	}
}

func TestStreamProcessorMetadataOnObjectsOnly(t *testing.T) {
	var messages []StreamMessage
	p := NewStreamProcessor(WithMessageHandler(func(msg StreamMessage) {
		messages = append(messages, msg)
	}))

	p.Feed("event: update\nid: 42\nretry: 1500\ndata: {\"v\":1}\n\n")
	p.Feed("event: nums\ndata: [1, {\"v\":2}, \"x\"]\n\n")
	p.Feed("data: 7\n\n")

	if len(messages) != 3 {
		t.Fatalf("Expected 3 callbacks, got %d", len(messages))
	}

	obj := messages[0].Values[0]
	if obj.Event != "update" || obj.ID != "42" {
		t.Errorf("Expected object metadata event=update id=42, got event=%q id=%q", obj.Event, obj.ID)
	}
	if obj.Retry != 1500*time.Millisecond {
		t.Errorf("Expected retry=1.5s, got %v", obj.Retry)
	}

	// A top-level array flattens one level; only the object element gets
	// the frame metadata.
	arrayFrame := messages[1].Values
	if len(arrayFrame) != 3 {
		t.Fatalf("Expected 3 values from array frame, got %d", len(arrayFrame))
	}
	if arrayFrame[0].Kind != ValueNumber || arrayFrame[0].Event != "" {
		t.Errorf("Expected unannotated number element, got kind=%v event=%q", arrayFrame[0].Kind, arrayFrame[0].Event)
	}
	if arrayFrame[1].Kind != ValueObject || arrayFrame[1].Event != "nums" {
		t.Errorf("Expected annotated object element, got kind=%v event=%q", arrayFrame[1].Kind, arrayFrame[1].Event)
	}
	if arrayFrame[2].Kind != ValueString || arrayFrame[2].Event != "" {
		t.Errorf("Expected unannotated string element, got kind=%v event=%q", arrayFrame[2].Kind, arrayFrame[2].Event)
	}

	scalar := messages[2].Values[0]
	if scalar.Kind != ValueNumber || scalar.Event != "" || scalar.ID != "" {
		t.Errorf("Expected bare scalar value, got %+v", scalar)
	}
}

func TestStreamProcessorMultiLinePayloadJoinsWithoutSeparator(t *testing.T) {
	var got string
	p := NewStreamProcessor(
		WithJSONDecoding(false),
		WithMessageHandler(func(msg StreamMessage) { got = msg.Text }),
	)

	p.Feed("data: hello\ndata:  world\n\n")
	if got != "hello world" {
		t.Errorf("Expected 'hello world', got %q", got)
	}
}

func TestStreamProcessorDecodeFailureRecovers(t *testing.T) {
	var messages []StreamMessage
	logger := newRecordingLogger()
	p := NewStreamProcessor(
		WithStreamLogger(logger),
		WithMessageHandler(func(msg StreamMessage) { messages = append(messages, msg) }),
	)

	p.Feed("data: {broken\n\n")
	p.Feed("data: {\"ok\":true}\n\n")

	if len(messages) != 2 {
		t.Fatalf("Expected 2 callbacks, got %d", len(messages))
	}
	if messages[0].Text != "{broken" {
		t.Errorf("Expected raw text preserved, got %q", messages[0].Text)
	}
	if len(messages[0].Values) != 0 {
		t.Errorf("Expected empty value list for undecodable frame, got %d", len(messages[0].Values))
	}
	if len(messages[1].Values) != 1 {
		t.Errorf("Expected later frame to decode, got %d values", len(messages[1].Values))
	}
	if p.DecodeFailures() != 1 {
		t.Errorf("Expected 1 decode failure, got %d", p.DecodeFailures())
	}
	if logger.count("Warn") == 0 {
		t.Error("Expected decode failure to be logged at warn level")
	}
	if p.Phase() != PhaseAccumulating {
		t.Errorf("Expected stream to keep accumulating, got %v", p.Phase())
	}
}

func TestStreamProcessorFlushRecoversRemainder(t *testing.T) {
	var messages []StreamMessage
	logger := newRecordingLogger()
	p := NewStreamProcessor(
		WithStreamLogger(logger),
		WithMessageHandler(func(msg StreamMessage) { messages = append(messages, msg) }),
	)

	p.Feed("data: {\"tail\":true}")
	if len(messages) != 0 {
		t.Fatalf("Expected no callback before flush, got %d", len(messages))
	}

	p.Flush()
	if len(messages) != 1 {
		t.Fatalf("Expected flushed remainder to emit, got %d callbacks", len(messages))
	}
	if logger.count("Warn") == 0 {
		t.Error("Expected unterminated remainder to be logged as warning")
	}

	// A second flush is a warned no-op.
	warnsBefore := logger.count("Warn")
	p.Flush()
	if len(messages) != 1 {
		t.Errorf("Expected no extra emission on double flush, got %d", len(messages))
	}
	if logger.count("Warn") <= warnsBefore {
		t.Error("Expected double flush to warn")
	}
}

func TestStreamProcessorAbort(t *testing.T) {
	p := NewStreamProcessor()

	p.Feed("data: {\"a\":1}\n\n")
	if phase := p.Abort(); phase != PhaseAborted {
		t.Errorf("Expected PhaseAborted, got %v", phase)
	}

	if phase := p.Feed("data: {\"a\":2}\n\n"); phase != PhaseAborted {
		t.Errorf("Expected input after abort to be dropped, got %v", phase)
	}

	state := p.State()
	if len(state.Values) != 1 {
		t.Errorf("Expected accumulated values preserved after abort, got %d", len(state.Values))
	}
	if state.Done {
		t.Error("Expected Done=false for aborted stream")
	}
}

func TestStreamProcessorRawMode(t *testing.T) {
	var got []string
	p := NewStreamProcessor(
		WithRawFrames(),
		WithJSONDecoding(false),
		WithMessageHandler(func(msg StreamMessage) { got = append(got, msg.Text) }),
	)

	p.Feed("event: meta\ndata: not stripped\n\nplain segment\n\n")

	want := []string{"event: meta\ndata: not stripped", "plain segment"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected raw segments %q, got %q", want, got)
	}
}

func TestStreamProcessorCustomFraming(t *testing.T) {
	var got []string
	p := NewStreamProcessor(
		WithFrameDelimiter("||"),
		WithDataPrefix("payload:"),
		WithDoneSentinel("END"),
		WithJSONDecoding(false),
		WithMessageHandler(func(msg StreamMessage) { got = append(got, msg.Text) }),
	)

	p.Feed("payload: one||payload: two||payload: END||payload: three||")

	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("Expected frames before custom sentinel, got %q", got)
	}
	if p.Phase() != PhaseCompleted {
		t.Errorf("Expected PhaseCompleted on custom sentinel, got %v", p.Phase())
	}
}

func TestStreamProcessorDisabledSentinel(t *testing.T) {
	p := NewStreamProcessor(WithDoneSentinel(""), WithJSONDecoding(false))

	p.Feed("data: [DONE]\n\n")
	if p.Phase() == PhaseCompleted {
		t.Error("Expected empty sentinel to disable completion detection")
	}
	if p.State().Text != "[DONE]" {
		t.Errorf("Expected sentinel text to pass through, got %q", p.State().Text)
	}
}

func TestStreamProcessorEmptyFramesSkipped(t *testing.T) {
	count := 0
	p := NewStreamProcessor(WithMessageHandler(func(StreamMessage) { count++ }))

	// Keep-alives and metadata-only frames emit nothing.
	p.Feed("\n\n: comment\n\nevent: ping\n\n")
	if count != 0 {
		t.Errorf("Expected no callbacks for empty frames, got %d", count)
	}
	if p.Frames() != 0 {
		t.Errorf("Expected 0 emitted frames, got %d", p.Frames())
	}
}

func TestStreamProcessorEmittedSlicesAreSnapshots(t *testing.T) {
	var first StreamMessage
	captured := false
	p := NewStreamProcessor(WithMessageHandler(func(msg StreamMessage) {
		if !captured {
			first = msg
			captured = true
		}
	}))

	p.Feed("data: {\"a\":1}\n\n")
	first.Values[0] = Value{Kind: ValueNull}
	first.AllValues[0] = Value{Kind: ValueNull}
	p.Feed("data: {\"a\":2}\n\n")

	state := p.State()
	if state.Values[0].Kind != ValueObject {
		t.Error("Expected processor state to be unaffected by callback mutation")
	}
}

func TestStreamProcessorAllJSON(t *testing.T) {
	p := NewStreamProcessor()

	p.Feed("data: {\"a\":1}\n\n")
	p.Feed("data: bad json\n\n")
	p.Feed("data: [2,3]\n\n")

	combined := p.AllJSON()
	if combined != "[{\"a\":1},[2,3]]" {
		t.Errorf("Expected combined JSON of decoded payloads only, got %q", combined)
	}

	var doc []any
	if err := json.Unmarshal([]byte(combined), &doc); err != nil {
		t.Fatalf("AllJSON produced invalid JSON: %v", err)
	}
	if len(doc) != 2 {
		t.Errorf("Expected 2 top-level elements, got %d", len(doc))
	}
}

func TestStreamProcessorCRLFLines(t *testing.T) {
	var got string
	p := NewStreamProcessor(
		WithJSONDecoding(false),
		WithMessageHandler(func(msg StreamMessage) { got = msg.Text }),
	)

	p.Feed("data: hi\r\n\ndata: ignored")
	if got != "hi" {
		t.Errorf("Expected carriage returns stripped, got %q", got)
	}
}

func TestStreamProcessorManySmallChunks(t *testing.T) {
	var values []Value
	p := NewStreamProcessor(WithMessageHandler(func(msg StreamMessage) {
		values = msg.AllValues
	}))

	stream := ""
	for i := 0; i < 10; i++ {
		stream += fmt.Sprintf("data: {\"i\":%d}\n\n", i)
	}
	for _, r := range stream {
		p.Feed(string(r))
	}

	if len(values) != 10 {
		t.Fatalf("Expected 10 accumulated values, got %d", len(values))
	}
	for i, v := range values {
		obj, _ := v.Object()
		if obj["i"] != float64(i) {
			t.Errorf("Expected value %d at index %d, got %v", i, i, obj["i"])
		}
	}
}

func TestStreamPhaseString(t *testing.T) {
	cases := map[StreamPhase]string{
		PhaseIdle:         "idle",
		PhaseAccumulating: "accumulating",
		PhaseCompleted:    "completed",
		PhaseAborted:      "aborted",
		StreamPhase(99):   "unknown",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Expected %q for %d, got %q", want, int(phase), got)
		}
	}
}

// recordingLogger collects log calls by level for assertions.
type recordingLogger struct {
	entries []string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{}
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.entries = append(l.entries, "Debug:"+msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.entries = append(l.entries, "Info:"+msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.entries = append(l.entries, "Warn:"+msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.entries = append(l.entries, "Error:"+msg) }

func (l *recordingLogger) count(level string) int {
	n := 0
	for _, e := range l.entries {
		if strings.HasPrefix(e, level+":") {
			n++
		}
	}
	return n
}
