package http

import (
	"net/http"
	"time"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode   int
	Status       string
	Headers      http.Header
	Body         []byte
	ResponseTime time.Duration
}

// BodyString returns the body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}
