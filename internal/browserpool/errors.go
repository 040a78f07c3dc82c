package browserpool

import "errors"

// Operational faults - retire the instance and surface to the caller
// that triggered them. No internal retry.
var (
	ErrPoolClosed    = errors.New("browserpool: pool is closed")
	ErrLaunchFailed  = errors.New("browserpool: browser launch failed")
	ErrNewPageFailed = errors.New("browserpool: new page failed")
)
