package models

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Query   string     `json:"query"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Total   int        `json:"total"`
	// DatasetRows is the number of rows searched.
	DatasetRows int `json:"dataset_rows"`
	Chunks      int `json:"chunks"`
	// FailedChunks counts chunks whose relevance call failed and contributed no rows.
	FailedChunks int `json:"failed_chunks"`
	// Degraded is set when at least one chunk failed, so an empty result
	// may mean "service unavailable" rather than "no matches".
	Degraded  bool  `json:"degraded,omitempty"`
	QueryTime int64 `json:"query_time_ms"`
}
