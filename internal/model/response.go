package model

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with optional metadata.
type ListResponse struct {
	Resource interface{}   `json:"resource"`
	Meta     *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta carries list metadata.
type ResponseMeta struct {
	Count int `json:"count"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Code is a stable machine-readable number; Status mirrors the HTTP status.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Status  int                    `json:"status"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
