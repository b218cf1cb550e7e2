package gcp

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/Sh00ty/mt-route-daemon/internal/resilience"
)

// classify marks configuration errors (bad request, auth, missing resource)
// as permanent. Rate limits, server errors and transport failures stay retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return resilience.Permanent(err)
	}
	return err
}
