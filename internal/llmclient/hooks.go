package llmclient

import (
	"context"
	"time"
)

// RequestInfo describes an upstream call as it starts.
type RequestInfo struct {
	Provider string
	Model    string
	Endpoint string
	Method   string
	Stream   bool
}

// ResponseInfo describes an upstream call once its outcome is known. For
// streaming calls that is when the response headers arrive.
type ResponseInfo struct {
	RequestInfo
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks observe the upstream call lifecycle. Both fields are optional.
type Hooks struct {
	// OnRequestStart may return a derived context that is passed to OnRequestEnd.
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}
