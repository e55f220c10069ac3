package pipeline

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a partial state update (delta) into the previous state.
// Reducers must be deterministic: identical inputs produce identical output.
type Reducer[S any] func(prev, delta S) S

// deepCopy clones state S via a JSON round trip. Works for any state type
// with exported, JSON-serializable fields; channels, funcs, and cycles fail.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("unmarshal state: %w", err)
	}

	return copied, nil
}
