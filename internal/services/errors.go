package services

import "errors"

var (
	// ErrNotFound is returned when an item id resolves through no namespace
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input rejected before any work is done
	ErrValidation = errors.New("validation failed")
	// ErrUpstreamUnavailable marks a marketplace or AI collaborator that is
	// unreachable, misconfigured or returned something unusable
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInsufficientData is returned when card attributes normalize to nothing
	ErrInsufficientData = errors.New("insufficient card data")
	// ErrRateLimited is returned when a local quota is exhausted
	ErrRateLimited = errors.New("rate limited")
)
