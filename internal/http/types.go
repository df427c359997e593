package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// EnforceRequest is the request body for POST /enforce. An empty FilePath
// scans the whole platform root.
type EnforceRequest struct {
	FilePath string `json:"file_path"`
}

// QueryRequest is the request body for POST /query. SQL takes precedence
// over Query.
type QueryRequest struct {
	SQL    string         `json:"sql"`
	Query  string         `json:"query"`
	Params map[string]any `json:"params"`
}

// JobRequest is the request body for POST /jobs.
type JobRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}
