package domain

import "errors"

var (
	ErrTransportUnavailable = errors.New("signaling transport unavailable")
	ErrSessionExists        = errors.New("session code already in use")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidSessionCode   = errors.New("invalid session code")
	ErrPermissionDenied     = errors.New("microphone permission denied")
	ErrDeviceUnavailable    = errors.New("audio device unavailable")
	ErrNegotiationFailed    = errors.New("negotiation failed")
	ErrConnectivityLost     = errors.New("peer connectivity lost")
	ErrAlreadyStarted       = errors.New("session already started")
)
