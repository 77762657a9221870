package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNotReady         = errors.New("not ready")
	ErrSequenceGap      = errors.New("order book sequence gap")
	ErrClosedBucket     = errors.New("candle bucket already closed")
	ErrNoReferenceLeg   = errors.New("no unique reference leg")
	ErrBandModifierTie  = errors.New("no unique band modifier maximum")
	ErrTriangleMismatch = errors.New("symbols do not form a triangle")
	ErrImplausibleRatio = errors.New("triangle price ratio outside plausible band")
	ErrInsufficientSize = errors.New("insufficient balance for a full triangle")
	ErrBusy             = errors.New("execution already in flight")
	ErrDuplicatePlan    = errors.New("duplicate plan suppressed")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
)
