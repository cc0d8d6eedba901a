package dedup

import (
	"fmt"
	"regexp"
)

// namePattern restricts project ids and vault names to characters that are
// safe as path segments and object key prefixes in every BlockStore.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,128}$`)

// Scope identifies the tenant and the request on whose behalf an operation runs.
// It is passed explicitly to every Namespace call and bound into the Index and
// Assembler handles returned by Namespace.Open.
type Scope struct {
	ProjectID     string
	TransactionID string
}

// Validate reports whether the scope names a usable project.
func (s Scope) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("%w: missing project id", ErrBadRequest)
	}
	if !namePattern.MatchString(s.ProjectID) {
		return fmt.Errorf("%w: invalid project id %q", ErrBadRequest, s.ProjectID)
	}
	return nil
}

// ValidVaultName reports whether name can be used as a vault name.
func ValidVaultName(name string) bool {
	return namePattern.MatchString(name)
}
