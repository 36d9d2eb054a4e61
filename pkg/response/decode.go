package response

import (
	"encoding/json"
	"fmt"
	"io"
)

// Envelope is Body as seen by API clients, with Data left undecoded.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Decode reads an envelope from r. When the call succeeded and out is not
// nil, Data is decoded into out.
func Decode(r io.Reader, out interface{}) (Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Success && out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env, fmt.Errorf("decode data: %w", err)
		}
	}
	return env, nil
}
