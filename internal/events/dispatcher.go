package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

const TextCodeHandlerFailed = "EVENT_HANDLER_FAILED"

// Handler inspects an event and returns a non-empty result to claim it.
// A nil result (including a typed nil pointer, map or slice) passes the
// event on to the next handler.
type Handler func(ctx context.Context, event domain.Event) (any, error)

type registration struct {
	handler Handler
}

// Dispatcher routes webhook events through ordered handler pipelines.
// Handlers registered for "name/action" run before those registered for
// "name"; within a pipeline they run one at a time and the first
// non-empty result wins.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.EventKey][]*registration
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.EventKey][]*registration),
		logger:   logger,
	}
}

// On registers h for key. With prepend the handler runs before those
// already registered. The returned func removes it and may be called
// more than once.
func (d *Dispatcher) On(key domain.EventKey, h Handler, prepend bool) func() {
	reg := &registration{handler: h}

	d.mu.Lock()
	if prepend {
		d.handlers[key] = append([]*registration{reg}, d.handlers[key]...)
	} else {
		d.handlers[key] = append(d.handlers[key], reg)
	}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(key, reg) })
	}
}

func (d *Dispatcher) remove(key domain.EventKey, reg *registration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[key]
	for i, r := range regs {
		if r == reg {
			// Copy so snapshots taken by in-flight emits stay intact.
			next := make([]*registration, 0, len(regs)-1)
			next = append(next, regs[:i]...)
			next = append(next, regs[i+1:]...)
			if len(next) == 0 {
				delete(d.handlers, key)
			} else {
				d.handlers[key] = next
			}
			return
		}
	}
}

// Emit builds an event from a raw webhook payload and dispatches it.
func (d *Dispatcher) Emit(ctx context.Context, name string, payload json.RawMessage) (any, error) {
	event, err := NewEvent(name, "", payload)
	if err != nil {
		return nil, err
	}
	return d.EmitEvent(ctx, event)
}

// EmitEvent runs the action pipeline, when the event has an action, and
// then the general pipeline until a handler returns a result. It returns
// nil when no handler claims the event.
func (d *Dispatcher) EmitEvent(ctx context.Context, event domain.Event) (any, error) {
	key := event.Key()

	if key.Action != "" {
		result, err := d.run(ctx, key, event)
		if err != nil || !isEmpty(result) {
			return result, err
		}
	}

	return d.run(ctx, key.General(), event)
}

func (d *Dispatcher) run(ctx context.Context, key domain.EventKey, event domain.Event) (any, error) {
	d.mu.RLock()
	regs := d.handlers[key]
	d.mu.RUnlock()

	for i, reg := range regs {
		result, err := reg.handler(ctx, event)
		if err != nil {
			d.logger.Debug("event handler failed", "topic", key.Topic(), "handler", i, "error", err)
			return nil, handlerFailure(err, key, event.DeliveryID)
		}
		if !isEmpty(result) {
			return result, nil
		}
	}
	return nil, nil
}

// Handlers reports how many handlers are registered for key.
func (d *Dispatcher) Handlers(key domain.EventKey) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[key])
}

// NewEvent parses the routing fields out of a webhook payload.
func NewEvent(name, deliveryID string, payload json.RawMessage) (domain.Event, error) {
	if !domain.ValidEventName(name) {
		return domain.Event{}, goerrors.New(fmt.Sprintf("invalid event name %q", name), goerrors.CategoryBadInput)
	}

	var peek struct {
		Action     string `json:"action"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &peek); err != nil {
			return domain.Event{}, goerrors.Wrap(err, goerrors.CategoryBadInput, fmt.Sprintf("parsing %s payload", name))
		}
	}

	return domain.Event{
		Name:       name,
		Action:     peek.Action,
		DeliveryID: deliveryID,
		Repository: peek.Repository.FullName,
		Payload:    payload,
	}, nil
}

func handlerFailure(source error, key domain.EventKey, deliveryID string) *goerrors.Error {
	metadata := map[string]any{"event": key.String()}
	if deliveryID != "" {
		metadata["delivery_id"] = deliveryID
	}
	// goerrors.Wrap would clone a *goerrors.Error source; keep the
	// original reachable through Unwrap instead.
	failure := goerrors.New("event handler failed", goerrors.CategoryOperation).
		WithTextCode(TextCodeHandlerFailed).
		WithMetadata(metadata)
	failure.Source = source
	return failure
}

// IsHandlerFailure reports whether err came from a handler rather than
// from parsing the event.
func IsHandlerFailure(err error) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == TextCodeHandlerFailed
}

func isEmpty(result any) bool {
	if result == nil {
		return true
	}
	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
