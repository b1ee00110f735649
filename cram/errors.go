package cram

import "errors"

// ErrAuthFailed is returned when CRAM verification fails, per FTS-1027's
// AuthFailed error kind.
var ErrAuthFailed = errors.New("cram: authentication failed")
