package managedsubscribe

import "errors"

var (
	ErrUnknownEntity      = errors.New("managedsubscribe: entity not registered")
	ErrUnknownTopic       = errors.New("managedsubscribe: topic not found")
	ErrBrokerUnavailable  = errors.New("managedsubscribe: broker unavailable")
	ErrProviderUnreachable = errors.New("managedsubscribe: provider callback unreachable")
)
