package crypto

import "errors"

var errInvalidHashLength = errors.New("crypto: hash must be 32 bytes")
