package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OCPP-J message types
const (
	CallMessage       = 2
	CallResultMessage = 3
	CallErrorMessage  = 4
)

// ErrMalformedFrame is returned when a raw text frame is not a JSON array of
// one of the three OCPP shapes. Callers drop the frame and keep the session.
var ErrMalformedFrame = errors.New("ocpp: malformed frame")

// Frame is a decoded OCPP-J message. Type discriminates the variant:
// CallMessage carries ID, Action and Payload; CallResultMessage carries ID
// and Payload; CallErrorMessage carries ID, ErrorCode, ErrorDescription and
// ErrorDetails.
type Frame struct {
	Type             int
	ID               string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

var emptyObject = json.RawMessage(`{}`)

// NewCall builds a Call frame. The payload is marshalled once up front so a
// bad payload surfaces to the caller instead of the write loop.
func NewCall(id, action string, payload interface{}) (*Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", action, err)
	}
	return &Frame{Type: CallMessage, ID: id, Action: action, Payload: raw}, nil
}

// NewResult builds a CallResult frame answering the given message id.
func NewResult(id string, payload interface{}) (*Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode result payload: %w", err)
	}
	return &Frame{Type: CallResultMessage, ID: id, Payload: raw}, nil
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return emptyObject, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return emptyObject, nil
		}
		return raw, nil
	}
	return json.Marshal(payload)
}

// IsRequest reports whether the frame is a Call.
func (f *Frame) IsRequest() bool {
	return f.Type == CallMessage
}

// IsResponse reports whether the frame answers an earlier Call
// (CallResult or CallError).
func (f *Frame) IsResponse() bool {
	return f.Type == CallResultMessage || f.Type == CallErrorMessage
}

// Decode parses a raw text frame.
// Format: [2, id, action, payload] | [3, id, payload] | [4, id, code, description, details]
func Decode(raw []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("%w: not a JSON array: %v", ErrMalformedFrame, err)
	}
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: array too short (%d elements)", ErrMalformedFrame, len(parts))
	}

	var msgType int
	if err := json.Unmarshal(parts[0], &msgType); err != nil {
		return nil, fmt.Errorf("%w: invalid message type: %v", ErrMalformedFrame, err)
	}

	var id string
	if err := json.Unmarshal(parts[1], &id); err != nil {
		return nil, fmt.Errorf("%w: invalid unique id: %v", ErrMalformedFrame, err)
	}

	f := &Frame{Type: msgType, ID: id}
	switch msgType {
	case CallMessage:
		if len(parts) < 4 {
			return nil, fmt.Errorf("%w: Call needs 4 elements", ErrMalformedFrame)
		}
		if err := json.Unmarshal(parts[2], &f.Action); err != nil {
			return nil, fmt.Errorf("%w: invalid action: %v", ErrMalformedFrame, err)
		}
		f.Payload = parts[3]
	case CallResultMessage:
		f.Payload = parts[2]
	case CallErrorMessage:
		if err := json.Unmarshal(parts[2], &f.ErrorCode); err != nil {
			return nil, fmt.Errorf("%w: invalid error code: %v", ErrMalformedFrame, err)
		}
		if len(parts) > 3 {
			if err := json.Unmarshal(parts[3], &f.ErrorDescription); err != nil {
				return nil, fmt.Errorf("%w: invalid error description: %v", ErrMalformedFrame, err)
			}
		}
		if len(parts) > 4 {
			f.ErrorDetails = parts[4]
		}
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedFrame, msgType)
	}
	return f, nil
}

// Encode serializes the frame back to its wire form. Payload values pass
// through verbatim.
func (f *Frame) Encode() ([]byte, error) {
	switch f.Type {
	case CallMessage:
		return json.Marshal([]interface{}{CallMessage, f.ID, f.Action, payloadOrEmpty(f.Payload)})
	case CallResultMessage:
		return json.Marshal([]interface{}{CallResultMessage, f.ID, payloadOrEmpty(f.Payload)})
	case CallErrorMessage:
		return json.Marshal([]interface{}{CallErrorMessage, f.ID, f.ErrorCode, f.ErrorDescription, payloadOrEmpty(f.ErrorDetails)})
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedFrame, f.Type)
	}
}

func payloadOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return emptyObject
	}
	return raw
}
