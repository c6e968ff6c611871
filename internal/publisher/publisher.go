// Package publisher holds the wire encoding shared by the event publishers.
package publisher

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Attributer lets a payload supply message attributes for subscriber-side
// filtering.
type Attributer interface {
	Attributes() map[string]string
}

// Encode marshals payload to JSON and collects its attributes.
func Encode(payload any) ([]byte, map[string]string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{"content_type": "application/json"}
	if a, ok := payload.(Attributer); ok {
		maps.Copy(attrs, a.Attributes())
	}
	return data, attrs, nil
}
