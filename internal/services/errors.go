// Package services defines the business logic for job notifications and job
// registration. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

var (
	// ErrInvalidEvent is returned when a webhook payload has a blank
	// request_id or a status the provider is not known to send.
	ErrInvalidEvent = errors.New("invalid webhook event")

	// ErrUndeliverable is returned by a Messenger when the recipient can never
	// receive messages (bot blocked, chat deleted). Retrying will not help.
	ErrUndeliverable = errors.New("recipient cannot receive messages")

	// ErrUserNotFound indicates that the referenced bot user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidJob is returned when a job registration is missing its
	// request id or names an unknown kind.
	ErrInvalidJob = errors.New("invalid job")

	// ErrDuplicateJob is returned when a job with the same request id has
	// already been registered.
	ErrDuplicateJob = errors.New("job already registered")
)
