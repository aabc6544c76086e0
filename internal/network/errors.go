package network

import (
	"errors"
)

// ErrNetwork marks connect, read, write, and timeout failures.
var ErrNetwork = errors.New("network error")
