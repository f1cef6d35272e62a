package domain

import "errors"

// ErrDuplicate is returned by repositories when a unique index rejects a write.
var ErrDuplicate = errors.New("duplicate record")
