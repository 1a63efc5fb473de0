package antares

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("antares: no store configured")
	ErrStoreClosed     = errors.New("antares: store closed")
	ErrMigrationFailed = errors.New("antares: migration failed")

	// Not found errors.
	ErrJobNotFound      = errors.New("antares: job not found")
	ErrInstanceNotFound = errors.New("antares: job instance not found")
	ErrShardNotFound    = errors.New("antares: shard not found")
	ErrWorkerNotFound   = errors.New("antares: worker not found")
	ErrEventNotFound    = errors.New("antares: event not found")
	ErrTriggerNotFound  = errors.New("antares: trigger entry not found")

	// Conflict errors.
	ErrJobAlreadyExists      = errors.New("antares: job already exists")
	ErrInstanceAlreadyExists = errors.New("antares: job instance already exists")
	ErrDuplicateTrigger      = errors.New("antares: duplicate trigger entry")

	// State errors. ErrStateTransferInvalid signals that a direct job
	// state transition was rejected by the legal-transition table; it is
	// a warning condition, not a fault.
	ErrStateTransferInvalid = errors.New("antares: invalid job state transition")

	// Cluster errors.
	ErrLeadershipLost = errors.New("antares: leadership lost")
	ErrNotLeader      = errors.New("antares: not the leader")
)
