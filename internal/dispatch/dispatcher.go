// Package dispatch validates tool inputs, serializes actions against the
// single stored credential, and maps every gateway outcome into the closed
// failure taxonomy. No raw error leaves this boundary unclassified.
package dispatch

import (
	"context"
	"sync"
	"time"

	"sessionmate-mcp-server/internal/credstore"
	"sessionmate-mcp-server/internal/schedule"
)

const (
	defaultCredentialMaxAge = 12 * time.Hour
	defaultSlotGrid         = 15 * time.Minute
	defaultListWindow       = 14 * 24 * time.Hour

	settingLastAuthenticated = "last_authenticated_at"
	settingLastBookedSession = "last_booked_session_id"
)

// Capturer records a diagnostic artifact for a failing operation. The
// returned reference may be empty when no artifact could be taken.
type Capturer interface {
	Capture(ctx context.Context, operation string) string
}

// Options tunes dispatcher behavior. Zero values fall back to defaults.
type Options struct {
	// CredentialMaxAge bounds how old a stored credential may be before
	// authenticate attempts a fresh login instead of reusing it.
	CredentialMaxAge time.Duration
	// SlotGrid is the remote surface's fixed start-time grid.
	SlotGrid time.Duration
	// ListWindow is the default query span when no end date is given.
	ListWindow time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Dispatcher routes the four remote-control operations through the gateway
// while holding the per-credential serialization invariant: at most one
// mutating action in flight, queries shared among themselves.
type Dispatcher struct {
	gw       schedule.Gateway
	store    *credstore.Store
	capturer Capturer

	credMaxAge time.Duration
	slotGrid   time.Duration
	listWindow time.Duration
	now        func() time.Time

	// mu guards the credential: writers are the mutating actions, readers
	// the history queries.
	mu sync.RWMutex
}

// New wires a dispatcher. capturer may be nil; failures then skip diagnostics.
func New(gw schedule.Gateway, store *credstore.Store, capturer Capturer, opts Options) *Dispatcher {
	d := &Dispatcher{
		gw:         gw,
		store:      store,
		capturer:   capturer,
		credMaxAge: opts.CredentialMaxAge,
		slotGrid:   opts.SlotGrid,
		listWindow: opts.ListWindow,
		now:        opts.Now,
	}
	if d.credMaxAge <= 0 {
		d.credMaxAge = defaultCredentialMaxAge
	}
	if d.slotGrid <= 0 {
		d.slotGrid = defaultSlotGrid
	}
	if d.listWindow <= 0 {
		d.listWindow = defaultListWindow
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Authenticate establishes (or reuses) an authenticated session. force clears
// the stored credential before attempting a fresh login.
func (d *Dispatcher) Authenticate(ctx context.Context, force bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if force {
		if err := d.store.Clear(); err != nil {
			return "", schedule.WrapFailure(schedule.KindActionFailed, err, "clearing stored credential")
		}
	} else if d.store.IsFresh(d.credMaxAge) {
		return "existing credential is still fresh; use force to re-authenticate", nil
	}

	cred, err := d.gw.Authenticate(ctx, true)
	if err != nil {
		return "", d.failGateway(ctx, "authenticate", err)
	}
	if err := d.store.Put(cred); err != nil {
		return "", schedule.WrapFailure(schedule.KindActionFailed, err, "persisting credential")
	}
	_ = d.store.SetSetting(settingLastAuthenticated, d.now().Format(time.RFC3339))
	return "authenticated; credential stored", nil
}

// Book validates the request locally, then books through the gateway. No
// remote call happens when validation fails.
func (d *Dispatcher) Book(ctx context.Context, req schedule.BookingRequest) (*schedule.SessionRecord, error) {
	if f := d.validateBooking(req); f != nil {
		return nil, f
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cred, err := d.store.Get()
	if err != nil {
		return nil, schedule.NewFailure(schedule.KindAuthRequired, "no stored credential; run authenticate first")
	}

	rec, err := d.gw.PerformBooking(ctx, req, cred)
	if err != nil {
		return nil, d.failGateway(ctx, "book", err)
	}

	// Normalize gateway output so endTime == startTime + duration always
	// holds for callers.
	if rec.Duration == 0 {
		rec.Duration = req.Duration
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = req.StartTime
	}
	rec.EndTime = rec.StartTime.Add(rec.Duration.Length())
	if rec.Status == "" {
		rec.Status = StatusForNew(d.now(), rec)
	}
	_ = d.store.SetSetting(settingLastBookedSession, rec.ID)
	return rec, nil
}

// Cancel cancels the remote session with the given id.
func (d *Dispatcher) Cancel(ctx context.Context, sessionID string) (*schedule.Confirmation, error) {
	if sessionID == "" {
		return nil, schedule.NewFailure(schedule.KindSessionNotFound, "session id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cred, err := d.store.Get()
	if err != nil {
		return nil, schedule.NewFailure(schedule.KindAuthRequired, "no stored credential; run authenticate first")
	}

	conf, err := d.gw.PerformCancellation(ctx, sessionID, cred)
	if err != nil {
		return nil, d.failGateway(ctx, "cancel", err)
	}
	return conf, nil
}

// List queries session history between start and end. A zero end defaults to
// start plus the configured window. List runs under the shared lock so
// queries never interleave with a mutating action.
func (d *Dispatcher) List(ctx context.Context, start, end time.Time) ([]schedule.SessionRecord, error) {
	if start.IsZero() {
		return nil, schedule.NewFailure(schedule.KindInvalidDateRange, "start date is required")
	}
	if end.IsZero() {
		end = start.Add(d.listWindow)
	}
	if end.Before(start) {
		return nil, schedule.NewFailure(schedule.KindInvalidDateRange,
			"end date %s precedes start date %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	cred, err := d.store.Get()
	if err != nil {
		return nil, schedule.NewFailure(schedule.KindAuthRequired, "no stored credential; run authenticate first")
	}

	records, err := d.gw.QueryHistory(ctx, schedule.DateRange{Start: start, End: end}, cred)
	if err != nil {
		return nil, d.failGateway(ctx, "list", err)
	}
	return records, nil
}

// Status reports the stored credential's presence, age, and freshness without
// touching the remote surface.
func (d *Dispatcher) Status() (authenticated bool, age time.Duration, fresh bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	age, authenticated = d.store.Age()
	if !authenticated {
		return false, 0, false
	}
	return true, age, age < d.credMaxAge
}

func (d *Dispatcher) validateBooking(req schedule.BookingRequest) *schedule.Failure {
	if req.StartTime.IsZero() {
		return schedule.NewFailure(schedule.KindInvalidTime, "start time is required")
	}
	if !req.Duration.Valid() {
		return schedule.NewFailure(schedule.KindInvalidTime,
			"duration %d is not supported; choose one of 25, 50, 75", req.Duration)
	}
	now := d.now()
	if !req.StartTime.After(now) {
		return schedule.NewFailure(schedule.KindInvalidTime,
			"start time %s is not in the future", req.StartTime.Format(time.RFC3339))
	}
	if !req.StartTime.Truncate(d.slotGrid).Equal(req.StartTime) {
		return schedule.NewFailure(schedule.KindInvalidTime,
			"start time %s is off the %s slot grid", req.StartTime.Format(time.RFC3339), d.slotGrid)
	}
	return nil
}

// failGateway classifies a gateway error and attaches a diagnostic capture
// reference. The capture never suppresses or alters the failure kind. The
// reference goes onto a copy: the gateway owns its error values and may reuse
// them across calls, so they must never be mutated here.
func (d *Dispatcher) failGateway(ctx context.Context, operation string, err error) *schedule.Failure {
	f := schedule.AsFailure(err)
	if d.capturer != nil {
		if ref := d.capturer.Capture(ctx, operation); ref != "" {
			tagged := *f
			tagged.CaptureRef = ref
			tagged.Message += " (diagnostic: " + ref + ")"
			return &tagged
		}
	}
	return f
}

// StatusForNew derives the initial status of a freshly booked session.
func StatusForNew(now time.Time, rec *schedule.SessionRecord) schedule.Status {
	return schedule.DeriveStatus(now, rec.StartTime, rec.EndTime, "", rec.Partner)
}
