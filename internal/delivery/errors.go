package delivery

import "fmt"

// HTTPError is a non-success response from the collector, surfaced after
// the retry policy is exhausted.
type HTTPError struct {
	Status    int
	Body      string
	RequestID string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// NetworkError is a terminal transport failure (connection refused,
// timeout) after the retry policy is exhausted. It wraps the last
// underlying failure.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
