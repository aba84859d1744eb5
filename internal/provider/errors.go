package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the report can render a specific marker
type ErrorKind int

// Error kinds
const (
	KindUnexpected ErrorKind = iota
	KindAuthContext
	KindTokenFetch
	KindTokenParse
	KindHTTPStatus
	KindNetwork
	KindRateLimited
	KindResponseParse
	KindListing
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthContext:
		return "auth_context"
	case KindTokenFetch:
		return "token_fetch"
	case KindTokenParse:
		return "token_parse"
	case KindHTTPStatus:
		return "http_status"
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindResponseParse:
		return "response_parse"
	case KindListing:
		return "listing"
	case KindCanceled:
		return "canceled"
	default:
		return "unexpected"
	}
}

// Stage is the pipeline step an error came from
type Stage string

// Pipeline stages
const (
	StageListing Stage = "listing"
	StageAuth    Stage = "auth"
	StageQuery   Stage = "query"
)

// Error is the tagged error returned by listers, credential providers and cost queriers
type Error struct {
	Kind           ErrorKind
	Stage          Stage
	SubscriptionID string
	StatusCode     int // set for KindHTTPStatus and KindRateLimited
	Err            error
}

// NewError wraps err with a kind and stage
func NewError(kind ErrorKind, stage Stage, subscriptionID string, err error) *Error {
	return &Error{
		Kind:           kind,
		Stage:          stage,
		SubscriptionID: subscriptionID,
		Err:            err,
	}
}

// StatusError reports a non-200 response from the cost API
func StatusError(subscriptionID string, statusCode int, body string) *Error {
	kind := KindHTTPStatus
	if statusCode == 429 {
		kind = KindRateLimited
	}
	return &Error{
		Kind:           kind,
		Stage:          StageQuery,
		SubscriptionID: subscriptionID,
		StatusCode:     statusCode,
		Err:            fmt.Errorf("cost API returned status %d: %s", statusCode, body),
	}
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("%s %s", e.Stage, e.Kind)
	if e.SubscriptionID != "" {
		prefix = fmt.Sprintf("%s (subscription %s)", prefix, e.SubscriptionID)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the cost query may be attempted again
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindRateLimited
}

// IsCanceled reports whether err comes from a cancelled or expired run context
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// AsError extracts a tagged error. Untagged context errors become KindCanceled;
// any other untagged error is reported as an unexpected failure at the given stage.
func AsError(err error, stage Stage) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if IsCanceled(err) {
		return NewError(KindCanceled, stage, "", err)
	}
	return NewError(KindUnexpected, stage, "", err)
}
