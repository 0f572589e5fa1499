package eventbus

import (
	"encoding/json"
	"fmt"
)

// Decode converts an event payload to T. Payloads may be T, *T, or a
// generic JSON shape such as map[string]any or json.RawMessage.
func Decode[T any](payload any) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		if p == nil {
			return nil, fmt.Errorf("nil payload")
		}
		return p, nil
	case T:
		return &p, nil
	case map[string]any, []any:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
