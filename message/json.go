package message

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/flux-framework/flux-core-go/cmn/cos"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// SetJSON marshals v and installs it as the message payload, the JSON-typed
// analog of SetString used by callers whose payload is structured data
// (scratchpad LL/SC responses).
func (m *Message) SetJSON(v any) error {
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		return cos.ErrInvalidArgument("message: marshal payload: %v", err)
	}
	return m.SetPayload(b)
}

// GetJSON unmarshals the payload into v.
func (m *Message) GetJSON(v any) error {
	b, ok := m.Payload()
	if !ok {
		return cos.ErrProtocol("message: PAYLOAD flag not set")
	}
	if err := jsonAPI.Unmarshal(b, v); err != nil {
		return cos.ErrProtocol("message: unmarshal payload: %v", err)
	}
	return nil
}
