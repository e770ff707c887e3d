package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"nexus/internal/filterctx"
)

// MessageType tags a cross-frame message.
type MessageType string

const (
	TypeTheme         MessageType = "nexus-theme"
	TypeHeight        MessageType = "nexus-iframe-height"
	TypeFilterResults MessageType = "nexus-filter-results"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrChannelClosed  = errors.New("channel closed")
)

// Message is one of ThemeMessage, HeightMessage or FilterResultsMessage.
type Message interface {
	Type() MessageType
}

// ThemeMessage is sent into embedded content.
type ThemeMessage struct {
	Theme      string            `json:"theme"`
	Vars       map[string]string `json:"vars,omitempty"`
	FontFamily string            `json:"fontFamily,omitempty"`
}

// HeightMessage is sent out by embedded content for auto-sizing.
type HeightMessage struct {
	WidgetID string `json:"widgetId"`
	Height   int    `json:"height"`
}

// FilterResultsMessage publishes into the page's filter context from inside
// an embedded frame.
type FilterResultsMessage struct {
	WidgetID string           `json:"widgetId,omitempty"`
	Items    []filterctx.Item `json:"items,omitempty"`
	Filters  map[string]any   `json:"filters,omitempty"`
}

func (ThemeMessage) Type() MessageType         { return TypeTheme }
func (HeightMessage) Type() MessageType        { return TypeHeight }
func (FilterResultsMessage) Type() MessageType { return TypeFilterResults }

// Encode serializes m with its type tag.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	tag, _ := json.Marshal(m.Type())
	fields["type"] = tag
	return json.Marshal(fields)
}

// Decode parses a tagged message.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	var (
		m   Message
		err error
	)
	switch head.Type {
	case TypeTheme:
		var v ThemeMessage
		err = json.Unmarshal(data, &v)
		m = v
	case TypeHeight:
		var v HeightMessage
		err = json.Unmarshal(data, &v)
		m = v
	case TypeFilterResults:
		var v FilterResultsMessage
		err = json.Unmarshal(data, &v)
		m = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return m, nil
}

// ── Channels ───────────────────────────────────────────────

// Channel carries messages across an embedding boundary.
type Channel interface {
	Send(ctx context.Context, m Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

type pipeEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	closer *sync.Once
}

// Pipe returns two connected in-memory channel ends. Messages go through
// Encode/Decode so both ends see the wire form.
func Pipe() (Channel, Channel) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: ba, out: ab, done: done, closer: once},
		&pipeEnd{in: ab, out: ba, done: done, closer: once}
}

func (p *pipeEnd) Send(ctx context.Context, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- data:
		return nil
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case <-p.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-p.in:
		return Decode(data)
	}
}

func (p *pipeEnd) Close() error {
	p.closer.Do(func() { close(p.done) })
	return nil
}
