package service

import (
	"errors"
	"fmt"
)

// IntegrationNotFoundError is returned when no source exists for an
// integration ID.
type IntegrationNotFoundError struct {
	ID string
}

func (e *IntegrationNotFoundError) Error() string {
	return fmt.Sprintf("integration %q not found", e.ID)
}

// IsIntegrationNotFoundError reports whether err wraps an
// IntegrationNotFoundError.
func IsIntegrationNotFoundError(err error) bool {
	var nf *IntegrationNotFoundError
	return errors.As(err, &nf)
}
