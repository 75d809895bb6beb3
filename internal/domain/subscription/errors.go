package subscription

import "errors"

var ErrInvalidUpdate = errors.New("invalid subscription update")
