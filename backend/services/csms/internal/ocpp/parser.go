package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// Message represents parsed OCPP frame.
type Message struct {
	MessageType      int
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// FrameError is returned when a frame cannot be decoded. UniqueID is set when it could be
// read, so the caller can still answer with a CALLERROR.
type FrameError struct {
	UniqueID string
	Err      error
}

func (e *FrameError) Error() string {
	return e.Err.Error()
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Parser decodes raw JSON OCPP frames.
type Parser struct{}

// NewParser returns parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes []byte into Message struct.
func (p *Parser) Parse(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, &FrameError{Err: fmt.Errorf("ocpp: decode frame: %w", err)}
	}

	if len(array) < 3 {
		return nil, &FrameError{Err: errors.New("ocpp: malformed frame")}
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, &FrameError{Err: fmt.Errorf("ocpp: read message type: %w", err)}
	}

	msg := &Message{MessageType: msgType}
	if err := json.Unmarshal(array[1], &msg.UniqueID); err != nil {
		return nil, &FrameError{Err: fmt.Errorf("ocpp: read unique id: %w", err)}
	}

	switch msgType {
	case protocol.MessageTypeCall:
		if len(array) < 4 {
			return nil, &FrameError{UniqueID: msg.UniqueID, Err: errors.New("ocpp: incomplete CALL frame")}
		}
		if err := json.Unmarshal(array[2], &msg.Action); err != nil {
			return nil, &FrameError{UniqueID: msg.UniqueID, Err: fmt.Errorf("ocpp: read action: %w", err)}
		}
		msg.Payload = array[3]
	case protocol.MessageTypeCallResult:
		msg.Payload = array[2]
	case protocol.MessageTypeCallError:
		if len(array) < 4 {
			return nil, &FrameError{UniqueID: msg.UniqueID, Err: errors.New("ocpp: incomplete CALLERROR frame")}
		}
		if err := json.Unmarshal(array[2], &msg.ErrorCode); err != nil {
			return nil, &FrameError{UniqueID: msg.UniqueID, Err: fmt.Errorf("ocpp: read error code: %w", err)}
		}
		if err := json.Unmarshal(array[3], &msg.ErrorDescription); err != nil {
			return nil, &FrameError{UniqueID: msg.UniqueID, Err: fmt.Errorf("ocpp: read error description: %w", err)}
		}
		if len(array) > 4 {
			msg.ErrorDetails = array[4]
		}
	default:
		return nil, &FrameError{UniqueID: msg.UniqueID, Err: fmt.Errorf("ocpp: unsupported message type %d", msgType)}
	}

	return msg, nil
}

// BuildCall builds a CALL frame.
func BuildCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCall, uniqueID, action, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallResult builds standard CALLRESULT payload.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCallResult, uniqueID, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallError builds CALLERROR payload.
func BuildCallError(uniqueID, code, description string) ([]byte, error) {
	frame := []interface{}{protocol.MessageTypeCallError, uniqueID, code, description, map[string]string{}}
	return json.Marshal(frame)
}
