package cache

import "errors"

var (
	ErrKeyNotFound = errors.New("cache: key not found")
	// ErrDecode is returned by GetJSON when the stored value does not decode
	// into the requested type.
	ErrDecode = errors.New("cache: undecodable value")
)
