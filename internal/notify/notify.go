// Package notify fans out operational events. Delivery is best effort: the
// hub buffers and drops on overflow so a slow sink can never stall the
// decision pipeline.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EventType classifies notifications.
type EventType int

const (
	EventEntry EventType = iota
	EventExit
	EventHalt
	EventResume
	EventOrderFailure
	EventRegimeChange
)

func (t EventType) String() string {
	switch t {
	case EventEntry:
		return "entry"
	case EventExit:
		return "exit"
	case EventHalt:
		return "halt"
	case EventResume:
		return "resume"
	case EventOrderFailure:
		return "order_failure"
	case EventRegimeChange:
		return "regime_change"
	default:
		return "unknown"
	}
}

// Event is one notification.
type Event struct {
	Type       EventType
	Instrument string
	Message    string
	At         time.Time
	Fields     map[string]string
}

// Notifier delivers one event. Implementations must not block indefinitely.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the structured log. Always wired; external
// sinks are additive.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier builds a log sink.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	e := n.log.Info()
	if ev.Type == EventHalt || ev.Type == EventOrderFailure {
		e = n.log.Warn()
	}
	for k, v := range ev.Fields {
		e = e.Str(k, v)
	}
	e.Str("event", ev.Type.String()).
		Str("instrument", ev.Instrument).
		Time("at", ev.At).
		Msg(ev.Message)
	return nil
}

// Hub fans events out to sinks from a single worker goroutine. Publish never
// blocks; when the buffer is full the event is counted as dropped and
// discarded.
type Hub struct {
	sinks   []Notifier
	events  chan Event
	dropped atomic.Int64
	log     zerolog.Logger
}

// NewHub builds a hub with the given buffer size.
func NewHub(buffer int, log zerolog.Logger, sinks ...Notifier) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		sinks:  sinks,
		events: make(chan Event, buffer),
		log:    log,
	}
}

// Publish enqueues an event, dropping it when the buffer is full.
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		h.log.Warn().Str("event", ev.Type.String()).Msg("notification buffer full, dropping")
	}
}

// Dropped returns how many events were discarded on a full buffer.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run delivers events until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.events:
			for _, sink := range h.sinks {
				if err := sink.Notify(ctx, ev); err != nil {
					h.log.Warn().Err(err).Str("event", ev.Type.String()).Msg("notification sink failed")
				}
			}
		}
	}
}
