package payment

import "errors"

var (
	ErrSignatureInvalid  = errors.New("invalid webhook signature")
	ErrUnknownPlan       = errors.New("unknown plan")
	ErrUnknownPayment    = errors.New("unknown payment reference")
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrMalformedEvent    = errors.New("malformed event payload")
)
