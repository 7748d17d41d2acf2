package jlhttp

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultStreamBufferSize is the read buffer used by the stream pump.
const DefaultStreamBufferSize = 4096

// maxErrorBodyExcerpt bounds how much of a non-2xx body is attached to the
// returned error.
const maxErrorBodyExcerpt = 512

// StreamOptions configures one Stream call. All callbacks are invoked
// synchronously from the pump: OnProgress for every raw chunk before it is
// parsed, OnMessage for every emitted frame, OnError once if the stream
// fails or is canceled mid-flight.
type StreamOptions struct {
	OnMessage  func(StreamMessage)
	OnProgress func(chunk string)
	OnError    func(error)

	// Processor options are applied to the per-call StreamProcessor after
	// the engine's defaults, so they win on conflict.
	Processor []StreamOption
}

// Stream issues the request and pumps the response body chunk-by-chunk into
// a per-call StreamProcessor, returning the final accumulated state. The
// request goes through middleware, the rate limiter and the circuit breaker
// exactly once: a partially consumed stream is never retried.
//
// A non-2xx status fails the call with a typed error carrying a bounded body
// excerpt. Context cancellation mid-stream aborts the processor and returns
// a cancellation-typed error distinguishable from ordinary failure.
func (c *Client) Stream(req *http.Request, opts StreamOptions) (*StreamState, error) {
	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	var requestID string
	if c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debug.Enabled && c.debug.LogStream {
		c.logger.Debug("Starting stream", "requestID", requestID, "method", req.Method, "url", req.URL.String())
	}

	c.metrics.RecordStreamStart(endpoint)
	defer c.metrics.RecordStreamEnd(endpoint)

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.metrics.RecordError(string(ErrorTypeRateLimit), req.Method, endpoint)
		return nil, c.newRequestError(ErrorTypeRateLimit, "rate limit exceeded", ErrRateLimited, requestID, req, 0, time.Since(start))
	}
	if !c.circuitBreaker.Allow() {
		c.metrics.RecordError(string(ErrorTypeCircuitOpen), req.Method, endpoint)
		return nil, c.newRequestError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, requestID, req, 0, time.Since(start))
	}

	resp, err := c.executeMiddleware(req)
	if err != nil {
		c.circuitBreaker.RecordFailure()
		c.metrics.RecordError(string(ErrorTypeNetwork), req.Method, endpoint)
		streamErr := c.classifyTransportError(err, requestID, req, 0, time.Since(start))
		if opts.OnError != nil {
			opts.OnError(streamErr)
		}
		return nil, streamErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.circuitBreaker.RecordFailure()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyExcerpt))
		resp.Body.Close()

		errorType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errorType = ErrorTypeServer
		}
		c.metrics.RecordError(string(errorType), req.Method, endpoint)
		streamErr := c.newRequestError(errorType, fmt.Sprintf("stream request returned status %d: %s", resp.StatusCode, excerpt), nil, requestID, req, 0, time.Since(start))
		streamErr.StatusCode = resp.StatusCode
		if opts.OnError != nil {
			opts.OnError(streamErr)
		}
		return nil, streamErr
	}
	c.circuitBreaker.RecordSuccess()

	return c.pumpStream(req, resp, opts, requestID, start)
}

// pumpStream reads the response body into the processor until the stream
// completes, the body ends, or the context is canceled.
func (c *Client) pumpStream(req *http.Request, resp *http.Response, opts StreamOptions, requestID string, start time.Time) (*StreamState, error) {
	defer resp.Body.Close()

	endpoint := getEndpointFromRequest(req)
	ctx := req.Context()

	processorOpts := []StreamOption{
		WithStreamLogger(c.logger),
	}
	if opts.OnMessage != nil || c.metrics != nil {
		onMessage := opts.OnMessage
		processorOpts = append(processorOpts, WithMessageHandler(func(msg StreamMessage) {
			c.metrics.RecordStreamFrame(endpoint)
			if onMessage != nil {
				onMessage(msg)
			}
		}))
	}
	processorOpts = append(processorOpts, opts.Processor...)
	processor := NewStreamProcessor(processorOpts...)

	failStream := func(cause error) (*StreamState, error) {
		processor.Abort()
		c.recordStreamOutcome(processor, endpoint)

		var streamErr *ClientError
		if ctx.Err() != nil {
			streamErr = newContextError(ctx.Err())
			streamErr.RequestID = requestID
			streamErr.Method = req.Method
			streamErr.URL = req.URL.String()
			streamErr.Endpoint = endpoint
			streamErr.Duration = time.Since(start)
		} else {
			streamErr = c.newRequestError(ErrorTypeStream, "stream read failed", cause, requestID, req, 0, time.Since(start))
		}
		if opts.OnError != nil {
			opts.OnError(streamErr)
		}
		return nil, streamErr
	}

	buf := make([]byte, c.streamBufferSize)
	for {
		if ctx.Err() != nil {
			return failStream(ctx.Err())
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if opts.OnProgress != nil {
				opts.OnProgress(chunk)
			}
			if processor.Feed(chunk) == PhaseCompleted {
				// The sentinel halts further reads even when the producer
				// keeps the connection open.
				break
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				processor.Flush()
				break
			}
			return failStream(readErr)
		}
	}

	c.recordStreamOutcome(processor, endpoint)
	if c.debug.Enabled && c.debug.LogStream {
		c.logger.Debug("Stream finished", "requestID", requestID, "phase", processor.Phase().String(), "frames", processor.Frames(), "duration", time.Since(start))
	}

	state := processor.State()
	return &state, nil
}

func (c *Client) recordStreamOutcome(processor *StreamProcessor, endpoint string) {
	if failures := processor.DecodeFailures(); failures > 0 {
		c.metrics.RecordStreamDecodeFailures(endpoint, failures)
	}
}
