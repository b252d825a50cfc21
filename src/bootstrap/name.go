package bootstrap

import (
	"fmt"
	"regexp"
	"strings"
)

// Tenant names are lowercase alphanumerics and single hyphens, starting and
// ending with an alphanumeric. Names surface in operator tooling and URLs,
// so the grammar is deliberately narrow.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateName checks the tenant name grammar. Consecutive hyphens are
// refused even though the pattern alone would admit them.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid tenant name %q", ErrMalformed, name)
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("%w: tenant name %q contains consecutive hyphens", ErrMalformed, name)
	}
	return nil
}
