package response

// Response represents a standard API response format
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError points at one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Page wraps a slice with its pagination metadata.
type Page struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Success returns a standard success response wrapping the data
func Success(data interface{}) Response {
	return Response{Success: true, Data: data}
}

// Message returns a success response carrying only a human-readable message.
func Message(msg string) Response {
	return Response{Success: true, Message: msg}
}

// Error returns a standard error response wrapping the error message
func Error(msg string, fields ...FieldError) Response {
	return Response{Success: false, Message: msg, Errors: fields}
}

// Failure is an error envelope that still carries data, e.g. usage numbers on a quota rejection.
func Failure(msg string, data interface{}) Response {
	return Response{Success: false, Message: msg, Data: data}
}
