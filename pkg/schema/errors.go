package schema

import "github.com/cockroachdb/errors"

// Error classes shared by the engine, the HTTP API and the SDK.
// Concrete errors wrap or mark one of these and are matched with errors.Is.
var (
	// ErrValidation is returned for malformed input. It is rendered with http status 400.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when the referenced person does not exist. Rendered with 404.
	ErrNotFound = errors.New("person not found")
	// ErrDependency marks failures of the record store or another downstream
	// dependency. Rendered with 503; callers may retry the whole operation.
	ErrDependency = errors.New("dependency unavailable")
)
