package storage

import "errors"

// ErrWriteFailed is returned by Memory when FailWrites is set.
var ErrWriteFailed = errors.New("storage: write failed")
