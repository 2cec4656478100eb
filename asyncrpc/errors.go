package asyncrpc

import "errors"

var (
	// ErrTimeout is returned when an Ask's deadline elapses before an
	// Answer arrives.
	ErrTimeout = errors.New("asyncrpc: ask timed out")

	// ErrCancelled is returned when the caller's context is done before
	// an Answer arrives.
	ErrCancelled = errors.New("asyncrpc: ask cancelled")

	// ErrUnknownAsk is returned by Deliver when no in-flight ask matches
	// the given ask id — it has already been answered, timed out, or
	// cancelled. The answer is silently dropped.
	ErrUnknownAsk = errors.New("asyncrpc: no in-flight ask for id")

	// ErrDispatchFailed wraps a transport-level failure to send an ask.
	ErrDispatchFailed = errors.New("asyncrpc: dispatch failed")
)
