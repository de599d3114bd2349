package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// SearchRequest is the body of a target search call.
type SearchRequest struct {
	Query      TargetQuery `json:"query"`
	Projection Projection  `json:"projection,omitempty"`
}

// CreateRequest is the body of a target create call.
type CreateRequest struct {
	Record TargetRecord `json:"record"`
}

// UpdateRequest is the body of a conditional target update call.
type UpdateRequest struct {
	Filter TargetQuery `json:"filter"`
	Patch  TargetPatch `json:"patch"`
}

// UpdateResult reports how many records the filter matched and updated.
type UpdateResult struct {
	Matched int `json:"matched"`
}
