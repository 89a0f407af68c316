package models

import "errors"

var (
	// ErrTransientNetwork marks a failed platform call that is retried on the
	// next scheduled interval.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrConfiguration marks missing or invalid settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrRecoveryUnavailable is returned when no snapshot exists for a tenant.
	ErrRecoveryUnavailable = errors.New("recovery unavailable: no snapshot")

	// ErrRecoveryInProgress is returned when a full recovery is already
	// running for the tenant.
	ErrRecoveryInProgress = errors.New("recovery already in progress")

	// ErrPartialFailure marks a batch where some items failed.
	ErrPartialFailure = errors.New("partial failure")
)
