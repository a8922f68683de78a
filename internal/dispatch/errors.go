package dispatch

import "errors"

// Protocol failure taxonomy. Everything the arbiter and scheduler can go
// wrong with resolves to one of these before crossing the package boundary;
// nothing leaks as an unclassified error.
var (
	// ErrNotFound means the broadcast does not exist.
	ErrNotFound = errors.New("broadcast not found")
	// ErrNotNotified means the responding provider was never offered this
	// broadcast.
	ErrNotNotified = errors.New("provider was not offered this broadcast")
	// ErrResourceCreation means the downstream assignment could not be
	// created; the broadcast stays pending and the candidate may retry.
	ErrResourceCreation = errors.New("resource creation failed")
)

// Reasons reported in RespondResult for non-winning responses. Callers get a
// clear "no longer available" signal, never an exception.
const (
	ReasonAlreadyResolved = "already resolved"
	ReasonOfferExpired    = "offer expired"
)
