package hostauth

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid token configuration")
	ErrInvalidToken  = errors.New("invalid identity token")
	ErrTokenKind     = errors.New("identity token kind mismatch")
	ErrInvalidClaims = errors.New("identity token missing realm or username")
)
