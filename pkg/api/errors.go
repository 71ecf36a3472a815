package api

// ErrorResponse is the JSON body returned by the server on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
