package domain

import "errors"

var (
	ErrNotRegistered    = errors.New("session not registered")
	ErrChannelClosed    = errors.New("channel closed")
	ErrMalformedMessage = errors.New("malformed message")
	ErrReadyTimeout     = errors.New("order channel not authenticated in time")
)
