package rate_limiter_gate

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is returned when a remote counter store cannot be
// reached or does not answer within its call timeout.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// ConfigurationError reports an invalid limiter setting. Components refuse
// to start with one.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
