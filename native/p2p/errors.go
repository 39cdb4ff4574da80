package p2p

import "errors"

// Transfer-specific error causes; shared causes come from the custody
// package.
var (
	ErrTransferNotPending = errors.New("p2p: transfer not pending")

	errNilState = errors.New("p2p engine: state not configured")
)
