// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/primestream/internal/tasks"
)

// =============================================================================
// EVENT READER
// =============================================================================

// RawEvent is one server-sent event as read off the wire.
type RawEvent struct {
	// Name is the "event:" field, empty for plain data events.
	Name string

	// Data is the "data:" lines joined with newlines.
	Data string
}

// EventReader parses a text/event-stream body one event at a time.
type EventReader struct {
	reader *bufio.Reader
}

// NewEventReader creates an event reader from an io.Reader.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{reader: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF once the stream ends,
// discarding an incomplete trailing event.
func (r *EventReader) Next() (RawEvent, error) {
	var (
		event   RawEvent
		data    []string
		hasData bool
	)

	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return RawEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !hasData && event.Name == "" {
				if err == io.EOF {
					return RawEvent{}, io.EOF
				}
				continue
			}
			event.Data = strings.Join(data, "\n")
			return event, nil
		}

		// comment line, used for keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event.Name = value
		case "data":
			data = append(data, value)
			hasData = true
		}

		if err == io.EOF {
			return RawEvent{}, io.EOF
		}
	}
}

// =============================================================================
// STREAM EVENTS
// =============================================================================

// StreamEvent is a decoded stream event.
type StreamEvent struct {
	// Snapshot holds the tasks in a snapshot event.
	Snapshot Snapshot

	// Message is the text of a server-side "error" event, which does not end the stream.
	Message string

	// Err is set on the final event of a channel stream that ended abnormally.
	Err error
}

// StreamCallback is called for each event received during streaming.
type StreamCallback func(event StreamEvent)

// StreamEach subscribes to the snapshot stream and calls callback for every
// event until ctx is done or the server ends the stream. id == uuid.Nil
// streams every task. A stream for an unknown task returns ErrTaskNotFound.
func (c *Client) StreamEach(ctx context.Context, id uuid.UUID, callback StreamCallback) error {
	path := "/api/stream"
	if id != uuid.Nil {
		path += "/" + id.String()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	reader := NewEventReader(resp.Body)
	for {
		// buffered events are not delivered after cancellation
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "stream read failed", Cause: err}
		}

		switch raw.Name {
		case "", tasks.EventSnapshot:
			var snapshot Snapshot
			if err := json.Unmarshal([]byte(raw.Data), &snapshot); err != nil {
				return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode snapshot", Cause: err}
			}
			callback(StreamEvent{Snapshot: snapshot})
		case tasks.EventNotFound:
			return &ClientError{Type: ErrTypeNotFound, Message: ErrTaskNotFound.Message + ": " + id.String()}
		case tasks.EventError:
			callback(StreamEvent{Message: raw.Data})
		}
	}
}

// Stream is StreamEach delivered over a channel. The channel is closed when
// the stream ends; an abnormal end is delivered as a final event with Err set.
// Cancelling ctx is a normal end.
func (c *Client) Stream(ctx context.Context, id uuid.UUID) <-chan StreamEvent {
	ch := make(chan StreamEvent)

	go func() {
		defer close(ch)

		err := c.StreamEach(ctx, id, func(event StreamEvent) {
			select {
			case ch <- event:
			case <-ctx.Done():
			}
		})

		if err != nil && ctx.Err() == nil {
			select {
			case ch <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch
}
