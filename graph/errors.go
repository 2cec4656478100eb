package graph

import "errors"

var (
	ErrNotFound      = errors.New("graph: no record found")
	ErrUnavailable   = errors.New("graph: provider unavailable")
	ErrResolveFailed = errors.New("graph: failed to resolve ask")
)
