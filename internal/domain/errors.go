package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidOffer      = errors.New("invalid offer parameters")
	ErrSigningFailed     = errors.New("signing failed")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
	ErrLockTimeout       = errors.New("timed out waiting for asset lock")
	ErrInvalidFloor      = errors.New("invalid floor price")
	ErrQuantityCap       = errors.New("quantity cap reached")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateOffer    = errors.New("duplicate offer")
	ErrStreamGaveUp      = errors.New("event stream gave up reconnecting")
	ErrUnknownCollection = errors.New("unknown collection")
)
