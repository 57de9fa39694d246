package models

import "encoding/json"

// CacheDocument wraps a serialized query-cache snapshot with the schema
// version and persistence time used to decide whether a restore is safe.
type CacheDocument struct {
	Version   int             `json:"version"`
	Timestamp int64           `json:"timestamp"` // persistence time, epoch milliseconds
	Client    json.RawMessage `json:"client"`
}
