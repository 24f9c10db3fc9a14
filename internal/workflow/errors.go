package workflow

import "fmt"

// TimeoutError indicates the flow call exceeded the configured deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow timeout: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// APIError wraps non-2xx flow responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workflow api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TransportError indicates a network-level failure reaching the flow service.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("workflow transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
