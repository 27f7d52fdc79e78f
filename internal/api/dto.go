package api

import (
	"github.com/Derkades/metrics/internal/view"
)

// SubmitRequest is the request body for a telemetry submission. Field
// values are JSON scalars or null.
type SubmitRequest struct {
	Source string         `json:"source"`
	UUID   string         `json:"uuid"`
	Fields map[string]any `json:"fields"`
}

// ShowResponse is the aggregated view for one source (aliased from the
// view engine).
type ShowResponse = view.Result

// SourceInfo is one entry of the source listing.
type SourceInfo struct {
	Name         string `json:"name"`
	CountClients int    `json:"count_clients"`
}

// SourcesResponse wraps the source listing.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}
