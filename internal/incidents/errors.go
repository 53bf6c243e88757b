package incidents

import "errors"

// Validation errors.
var (
	ErrInvalidSubmission = errors.New("invalid incident submission")
	ErrInvalidStatus     = errors.New("invalid incident status")
	ErrInvalidFilter     = errors.New("invalid incident filter")
)

// Repository errors.
var (
	ErrIncidentNotFound   = errors.New("incident not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
