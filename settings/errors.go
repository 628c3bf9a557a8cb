package settings

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported settings file format")
	ErrNoFile            = errors.New("settings store has no backing file")
)
