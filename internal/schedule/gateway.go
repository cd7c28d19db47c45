package schedule

import "context"

// Gateway is the capability boundary to whatever actually drives the remote
// scheduling surface. Implementations must check for an authenticated view
// before attempting any action and fail fast with KindAuthExpired when the
// surface bounces to its login page; that check precedes all other error
// classification.
type Gateway interface {
	// Authenticate blocks until the surface reports an authenticated state or
	// the configured ceiling elapses (KindAuthTimeout). On success it yields a
	// fresh Credential for the caller to persist.
	Authenticate(ctx context.Context, interactive bool) (*Credential, error)

	// PerformBooking books the requested session using the stored credential.
	// Fails with KindSlotUnavailable, KindSessionConflict, KindAuthExpired, or
	// KindActionFailed.
	PerformBooking(ctx context.Context, req BookingRequest, cred *Credential) (*SessionRecord, error)

	// PerformCancellation cancels the remote session with the given id.
	// Fails with KindSessionNotFound, KindAuthExpired, or KindActionFailed.
	PerformCancellation(ctx context.Context, sessionID string, cred *Credential) (*Confirmation, error)

	// QueryHistory lists sessions whose start time falls inside the range.
	// Fails with KindAuthExpired or KindActionFailed.
	QueryHistory(ctx context.Context, rng DateRange, cred *Credential) ([]SessionRecord, error)
}
