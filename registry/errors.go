package registry

import "errors"

// Static errors for the registry package, in the teacher's flat
// sentinel-error style (see registry/registry.go in the reference repo).
var (
	ErrUnknownOperation = errors.New("registry: unknown operation tag")
	ErrInvalidRecord    = errors.New("registry: invalid record")
	ErrNotFound         = errors.New("registry: no record found")
)
