package domain

import "errors"

// ErrNotFound signals a storage lookup miss for any OAuth entity.
var ErrNotFound = errors.New("oauth: not found")
