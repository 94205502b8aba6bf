package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// HandlerFunc processes message payload and returns response body. A handler may return a
// Reply to schedule work that must run after the response has been queued.
type HandlerFunc func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error)

// Reply wraps a response payload with follow-up work.
type Reply struct {
	Payload interface{}
	After   func(ctx context.Context)
}

// CallError is a handler failure mapped to an OCPP error code.
type CallError struct {
	Code string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ErrUnknownAction is returned by Route for actions without a handler.
var ErrUnknownAction = errors.New("ocpp: unsupported action")

// Router dispatches OCPP actions to handlers.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action. Registering an action twice is a programming error.
func (r *Router) Register(action string, handler HandlerFunc) {
	if handler == nil {
		panic(fmt.Sprintf("ocpp: nil handler for %s", action))
	}
	if _, exists := r.handlers[action]; exists {
		panic(fmt.Sprintf("ocpp: duplicate handler for %s", action))
	}
	r.handlers[action] = handler
}

// Validate fails unless every required action has a handler.
func (r *Router) Validate(required ...string) error {
	var missing []string
	for _, action := range required {
		if _, ok := r.handlers[action]; !ok {
			missing = append(missing, action)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("ocpp: no handler registered for %s", strings.Join(missing, ", "))
	}
	return nil
}

// Actions lists registered actions in order.
func (r *Router) Actions() []string {
	actions := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// Route executes handler for message.
func (r *Router) Route(ctx context.Context, stationID string, msg *Message) (interface{}, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		return nil, &CallError{Code: protocol.ErrorNotImplemented, Err: fmt.Errorf("%w %s", ErrUnknownAction, msg.Action)}
	}
	return handler(ctx, stationID, msg.Payload)
}

// Decode convenience helper for handlers. Failures are reported as FormationViolation.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, &CallError{Code: protocol.ErrorFormationViolation, Err: err}
	}
	return target, nil
}
