package domain

import "errors"

var (
	ErrInvalidDimensionKey = errors.New("invalid_dimension_key")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidTallyID      = errors.New("invalid_tally_id")
	ErrInvalidDateRange    = errors.New("invalid_date_range")
	ErrInvalidResetTarget  = errors.New("invalid_reset_target")
	ErrInvalidProduct      = errors.New("invalid_product")
	ErrRemittanceNotFound  = errors.New("remittance_not_found")
	// ErrConcurrentRemittance means another writer appended to the same key
	// first. The caller must roll back and recompute.
	ErrConcurrentRemittance = errors.New("concurrent_remittance")
)
