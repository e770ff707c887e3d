package embed

import (
	"context"
	"errors"
	"log"
	"sync"

	"nexus/internal/filterctx"
)

// MaxHeight bounds reported frame heights.
const MaxHeight = 10000

// Theme is what the host page shares with embedded content.
type Theme struct {
	Name       string            `json:"name"`
	Vars       map[string]string `json:"vars"`
	FontFamily string            `json:"fontFamily"`
}

func (t Theme) Message() ThemeMessage {
	return ThemeMessage{Theme: t.Name, Vars: t.Vars, FontFamily: t.FontFamily}
}

// Bridge is the host side of the messaging protocol for one page view.
type Bridge struct {
	store *filterctx.Store

	mu       sync.Mutex
	heights  map[string]int
	onHeight func(widgetID string, height int)
}

func NewBridge(store *filterctx.Store) *Bridge {
	return &Bridge{store: store, heights: map[string]int{}}
}

// OnHeight registers a callback for height reports.
func (b *Bridge) OnHeight(fn func(widgetID string, height int)) {
	b.mu.Lock()
	b.onHeight = fn
	b.mu.Unlock()
}

// Height returns the last height reported for a widget.
func (b *Bridge) Height(widgetID string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.heights[widgetID]
	return h, ok
}

// Handle applies one inbound message.
func (b *Bridge) Handle(m Message) error {
	switch msg := m.(type) {
	case HeightMessage:
		if msg.WidgetID == "" {
			return errors.New("height message without widget id")
		}
		h := msg.Height
		if h < 0 {
			h = 0
		}
		if h > MaxHeight {
			h = MaxHeight
		}
		b.mu.Lock()
		b.heights[msg.WidgetID] = h
		fn := b.onHeight
		b.mu.Unlock()
		if fn != nil {
			fn(msg.WidgetID, h)
		}
	case FilterResultsMessage:
		if b.store == nil {
			return nil
		}
		if msg.Items != nil {
			b.store.SetFilterResults(msg.Items)
		}
		if msg.Filters != nil {
			b.store.SetFilters(msg.Filters)
		}
	case ThemeMessage:
		// Host-to-frame only.
	default:
		return ErrUnknownMessage
	}
	return nil
}

// Serve handles inbound messages until ctx ends or ch closes. Malformed
// messages are logged and skipped.
func (b *Bridge) Serve(ctx context.Context, ch Channel) error {
	for {
		m, err := ch.Receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrChannelClosed):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			log.Printf("[embed] receive: %v", err)
			continue
		}
		if err := b.Handle(m); err != nil {
			log.Printf("[embed] handle %s: %v", m.Type(), err)
		}
	}
}

// SendTheme pushes the theme into an embedded frame.
func (b *Bridge) SendTheme(ctx context.Context, ch Channel, t Theme) error {
	return ch.Send(ctx, t.Message())
}
