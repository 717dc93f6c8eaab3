package api

// Request/response shapes for the HTTP surface. The messaging response
// mirrors what the existing frontend expects from the old backend.

type signUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type recordResult struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

type recordError struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

// dispatchResponse is the caller-facing result surface of one bulk send.
type dispatchResponse struct {
	Success        bool           `json:"success"`
	TotalProcessed int            `json:"totalProcessed"`
	SuccessCount   int            `json:"successCount"`
	ErrorCount     int            `json:"errorCount"`
	Results        []recordResult `json:"results"`
	Errors         []recordError  `json:"errors"`

	// Recorded is false when the attempt summary could not be persisted.
	// The dispatch result itself is still complete.
	Recorded bool `json:"recorded"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
