// Package tenant is the single row-level isolation boundary: every public
// engine operation takes a tenant ID validated here. Callers never filter by
// a tenant value that has not passed Require.
package tenant

import (
	"errors"
	"strings"
)

// ErrMissingTenant rejects operations invoked without a tenant scope.
var ErrMissingTenant = errors.New("tenant id is required")

// Require validates and canonicalizes a caller-supplied tenant ID.
func Require(tenantID string) (string, error) {
	t := strings.TrimSpace(tenantID)
	if t == "" {
		return "", ErrMissingTenant
	}
	return t, nil
}
