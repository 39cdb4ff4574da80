package crowdfund

import "errors"

// Pool-specific error causes; shared causes come from the custody package.
var (
	ErrInvalidDeadline    = errors.New("crowdfund: deadline must be in the future")
	ErrPoolNotFunding     = errors.New("crowdfund: pool not in funding state")
	ErrFundingClosed      = errors.New("crowdfund: funding deadline has passed")
	ErrDeadlineNotReached = errors.New("crowdfund: deadline not reached")
	ErrPoolNotFailed      = errors.New("crowdfund: pool has not failed")

	errNilState = errors.New("crowdfund engine: state not configured")
)
