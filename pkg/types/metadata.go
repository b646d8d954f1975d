package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ChunkToMetadata flattens a chunk into the property map persisted on a
// graph episode. Keys follow the chunk's JSON tags; timestamps serialize as
// RFC 3339 strings so every backend stores them the same way.
func ChunkToMetadata(c *Chunk) (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk %s: %w", c.ChunkID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to flatten chunk %s: %w", c.ChunkID, err)
	}
	return m, nil
}

// ChunkFromMetadata rebuilds a chunk from a stored property map. Numeric
// types are decoded weakly: graph drivers return int64 or float64 depending
// on the backend, and JSON round-trips everything through float64.
func ChunkFromMetadata(m map[string]any) (*Chunk, error) {
	var chunk Chunk
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &chunk,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
	}
	if chunk.ChunkID == "" {
		return nil, fmt.Errorf("metadata missing chunk_id")
	}
	return &chunk, nil
}
