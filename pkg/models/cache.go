package models

import "time"

// Params holds named model parameters. Values that are nil are treated as unset.
type Params map[string]any

// CacheEntry is one cached model response set.
type CacheEntry struct {
	ModelID     string    `json:"model_id"`
	Fingerprint string    `json:"fingerprint"`
	Responses   []string  `json:"responses"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
}

// CacheStats summarizes the entries held for a single model.
type CacheStats struct {
	ModelID          string    `json:"model_id"`
	Entries          int       `json:"entries"`
	EarliestCreated  time.Time `json:"earliest_created"`
	LatestCreated    time.Time `json:"latest_created"`
	EarliestAccessed time.Time `json:"earliest_accessed"`
	LatestAccessed   time.Time `json:"latest_accessed"`
}
