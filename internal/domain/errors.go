package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrBookNotReady = errors.New("orderbook not ready")
	ErrInvalidOrder = errors.New("invalid order parameters")
	ErrUnknownVenue = errors.New("unknown venue")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrStaleFill    = errors.New("fill state stale")
	ErrLockHeld     = errors.New("lock already held")
	ErrNotFlat      = errors.New("position not flat")
)
