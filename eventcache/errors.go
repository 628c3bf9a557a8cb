package eventcache

import "errors"

// ErrInvalidTenant is returned by [Manager.Get] for a blank tenant identifier.
var ErrInvalidTenant = errors.New("tenant id must not be blank")
