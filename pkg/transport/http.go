package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const sseDone = "[DONE]"

// HTTPClient posts requests as JSON to an endpoint. The response is either
// a server-sent event stream with one delta per event, terminated by
// "data: [DONE]", or a single JSON message.
type HTTPClient struct {
	Endpoint string
	Headers  map[string]string
	client   *http.Client
}

type HTTPOption func(*HTTPClient)

func WithHeader(key, value string) HTTPOption {
	return func(c *HTTPClient) {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		c.Headers[key] = value
	}
}

// WithTimeout bounds the whole exchange, streaming included.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client.Timeout = timeout
	}
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

func NewHTTPClient(endpoint string, options ...HTTPOption) *HTTPClient {
	ret := &HTTPClient{
		Endpoint: endpoint,
		client:   &http.Client{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (h *HTTPClient) Exchange(ctx context.Context, req *Request) (<-chan Chunk, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")
	for k, v := range h.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &TransportError{StatusCode: resp.StatusCode, Reason: string(bytes.TrimSpace(b))}
	}

	c := make(chan Chunk)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		go streamDeltas(ctx, resp, c)
	default:
		go readMessage(ctx, resp, c)
	}
	return c, nil
}

func deliver(ctx context.Context, c chan<- Chunk, chunk Chunk) bool {
	select {
	case c <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func readMessage(ctx context.Context, resp *http.Response, c chan<- Chunk) {
	defer close(c)
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		deliver(ctx, c, Chunk{Err: &TransportError{Err: err}})
		return
	}
	msg, err := conversation.ParseMessageJSON(b)
	if err != nil {
		deliver(ctx, c, Chunk{Err: &TransportError{Reason: "invalid response message", Err: err}})
		return
	}
	deliver(ctx, c, Chunk{Delta: &Delta{Type: DeltaTypeMessage, Message: msg}})
}

func streamDeltas(ctx context.Context, resp *http.Response, c chan<- Chunk) {
	defer close(c)
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	reader := bufio.NewReader(resp.Body)
	var eventLines [][]byte
	eventCount := 0

	flush := func() (done bool, ok bool) {
		data := sseData(eventLines)
		eventLines = eventLines[:0]
		if len(data) == 0 {
			return false, true
		}
		if string(data) == sseDone {
			return true, true
		}
		d, err := ParseDelta(data)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to parse SSE event")
			return false, true
		}
		eventCount++
		return false, deliver(ctx, c, Chunk{Delta: d})
	}

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if len(bytes.TrimSpace(line)) > 0 {
				eventLines = append(eventLines, line)
			}
			if len(eventLines) > 0 {
				if _, ok := flush(); !ok {
					return
				}
			}
			if err != io.EOF && ctx.Err() == nil {
				log.Error().Err(err).Msg("Unexpected error reading streaming response")
				deliver(ctx, c, Chunk{Err: &TransportError{Err: err}})
				return
			}
			log.Debug().Int("total_events_processed", eventCount).Msg("Streaming reader finished")
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			done, ok := flush()
			if done || !ok {
				log.Debug().Int("total_events_processed", eventCount).Msg("Streaming reader finished")
				return
			}
			continue
		}
		eventLines = append(eventLines, line)
	}
}

// sseData joins the data fields of one event.
func sseData(lines [][]byte) []byte {
	var data [][]byte
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r\n")
		field, value, found := bytes.Cut(line, []byte(":"))
		if !found || string(field) != "data" {
			continue
		}
		data = append(data, bytes.TrimPrefix(value, []byte(" ")))
	}
	return bytes.Join(data, []byte("\n"))
}

var _ Client = (*HTTPClient)(nil)
