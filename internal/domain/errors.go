package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrTransport     = errors.New("transport failure")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrInvalidSignal = errors.New("invalid signal")
	ErrOrderRejected = errors.New("order rejected")
	ErrQueueFull     = errors.New("queue full")
	ErrQueueClosed   = errors.New("queue closed")
	ErrLockHeld      = errors.New("lock held by another process")
)
