package ledger

import "errors"

var ErrKeyNotLocked = errors.New("ledger key not locked by transaction")
