package api

// SyncRequest is the optional JSON body of a sync call. UserID, when set,
// must name the authenticated caller.
type SyncRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
