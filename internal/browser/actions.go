package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"sessionmate-mcp-server/internal/schedule"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
)

const authPollInterval = 2 * time.Second

// Authenticate opens the login page and waits for the surface to report an
// authenticated view, then snapshots the session into a credential artifact.
// Interactive mode waits up to the configured ceiling for a human to finish
// the login; non-interactive mode only checks whether the browser profile is
// already signed in.
func (s *Surface) Authenticate(ctx context.Context, interactive bool) (*schedule.Credential, error) {
	if err := s.Start(ctx); err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "starting browser")
	}

	page, err := s.openPage(ctx, s.url(s.cfg.LoginPath))
	if err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "opening login page")
	}
	s.retain(page)

	wait := s.cfg.NavigationTimeout()
	if interactive {
		wait = s.cfg.AuthCeiling()
	}
	deadline := time.Now().Add(wait)

	for {
		if s.isAuthenticated(page) {
			cred, err := s.snapshotCredential(page)
			if err != nil {
				return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "capturing credential")
			}
			log.Printf("authenticated; captured %d cookies", len(cred.Cookies))
			return cred, nil
		}
		if time.Now().After(deadline) {
			return nil, schedule.NewFailure(schedule.KindAuthTimeout,
				"login did not complete within %s", wait)
		}
		if err := sleepWithContext(ctx, authPollInterval); err != nil {
			return nil, schedule.WrapFailure(schedule.KindAuthTimeout, err, "login wait interrupted")
		}
	}
}

// PerformBooking books one session on the calendar page.
func (s *Surface) PerformBooking(ctx context.Context, req schedule.BookingRequest, cred *schedule.Credential) (*schedule.SessionRecord, error) {
	page, err := s.authedPage(ctx, cred, s.calendarURL(req.StartTime))
	if err != nil {
		return nil, err
	}
	s.retain(page)

	slotSel := fmt.Sprintf(`[data-slot-time=%q]`, req.StartTime.UTC().Format(time.RFC3339))
	slot, err := page.Timeout(s.cfg.ActionTimeout()).Element(slotSel)
	if err != nil {
		return nil, schedule.NewFailure(schedule.KindSlotUnavailable,
			"no open slot at %s", req.StartTime.Format(time.RFC3339))
	}
	if err := slot.Click("left", 1); err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "selecting slot")
	}

	durSel := fmt.Sprintf(`[data-duration="%d"]`, req.Duration)
	durBtn, err := page.Timeout(s.cfg.ActionTimeout()).Element(durSel)
	if err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err,
			"duration picker for %d minutes not found", req.Duration)
	}
	if err := durBtn.Click("left", 1); err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "selecting duration")
	}

	confirm, err := page.Timeout(s.cfg.ActionTimeout()).Element(`[data-action="confirm-booking"]`)
	if err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "booking confirm control not found")
	}
	if err := confirm.Click("left", 1); err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "confirming booking")
	}

	return s.waitBookingOutcome(ctx, page, req)
}

// waitBookingOutcome polls the page until the surface reports either a booked
// session or a typed refusal.
func (s *Surface) waitBookingOutcome(ctx context.Context, page *rod.Page, req schedule.BookingRequest) (*schedule.SessionRecord, error) {
	deadline := time.Now().Add(s.cfg.ActionTimeout())
	for {
		if has, el, err := page.Has(`[data-booking-id]`); err == nil && has {
			id := ""
			if attr, err := el.Attribute("data-booking-id"); err == nil && attr != nil {
				id = *attr
			}
			if id == "" {
				// Surface confirmed but exposed no id; synthesize one so the
				// caller can still reference the record.
				id = "local-" + uuid.NewString()
			}
			partner := ""
			if attr, err := el.Attribute("data-partner"); err == nil && attr != nil {
				partner = *attr
			}
			title := ""
			if attr, err := el.Attribute("data-title"); err == nil && attr != nil {
				title = *attr
			}
			rec := &schedule.SessionRecord{
				ID:        id,
				StartTime: req.StartTime,
				EndTime:   req.EndTime(),
				Duration:  req.Duration,
				Partner:   partner,
				Title:     title,
			}
			rec.Status = schedule.DeriveStatus(time.Now(), rec.StartTime, rec.EndTime, "", partner)
			return rec, nil
		}
		if has, el, err := page.Has(`[data-error="slot-taken"]`); err == nil && has {
			return nil, schedule.NewFailure(schedule.KindSlotUnavailable, "%s", bannerText(el, "slot is no longer available"))
		}
		if has, el, err := page.Has(`[data-error="conflict"]`); err == nil && has {
			return nil, schedule.NewFailure(schedule.KindSessionConflict, "%s", bannerText(el, "booking conflicts with an existing session"))
		}
		if time.Now().After(deadline) {
			return nil, schedule.NewFailure(schedule.KindActionFailed,
				"timed out waiting for booking confirmation")
		}
		if err := sleepWithContext(ctx, 250*time.Millisecond); err != nil {
			return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "booking wait interrupted")
		}
	}
}

// PerformCancellation cancels the session with the given remote id.
func (s *Surface) PerformCancellation(ctx context.Context, sessionID string, cred *schedule.Credential) (*schedule.Confirmation, error) {
	page, err := s.authedPage(ctx, cred, s.url(s.cfg.SessionsPath))
	if err != nil {
		return nil, err
	}
	s.retain(page)

	rowSel := fmt.Sprintf(`[data-session-id=%q]`, sessionID)
	has, row, err := page.Has(rowSel)
	if err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "searching for session %s", sessionID)
	}
	if !has {
		return nil, schedule.NewFailure(schedule.KindSessionNotFound, "session %s not found", sessionID)
	}

	cancelBtn, err := row.Timeout(s.cfg.ActionTimeout()).Element(`[data-action="cancel"]`)
	if err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "cancel control not found for session %s", sessionID)
	}
	if err := cancelBtn.Click("left", 1); err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "clicking cancel")
	}

	// Some flows interpose a confirmation dialog; accept it when present.
	if has, confirmBtn, err := page.Has(`[data-action="confirm-cancel"]`); err == nil && has {
		if err := confirmBtn.Click("left", 1); err != nil {
			return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "confirming cancellation")
		}
	}

	deadline := time.Now().Add(s.cfg.ActionTimeout())
	for {
		has, row, err := page.Has(rowSel)
		if err == nil && !has {
			return &schedule.Confirmation{SessionID: sessionID, Message: "session cancelled"}, nil
		}
		if err == nil && has {
			if attr, aerr := row.Attribute("data-status"); aerr == nil && attr != nil && *attr == string(schedule.StatusCancelled) {
				return &schedule.Confirmation{SessionID: sessionID, Message: "session cancelled"}, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, schedule.NewFailure(schedule.KindActionFailed,
				"timed out waiting for cancellation of %s", sessionID)
		}
		if err := sleepWithContext(ctx, 250*time.Millisecond); err != nil {
			return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "cancellation wait interrupted")
		}
	}
}

// sessionRow mirrors the attribute bundle the sessions page exposes per row.
type sessionRow struct {
	ID       string `json:"id"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Duration int    `json:"duration"`
	Status   string `json:"status"`
	Partner  string `json:"partner"`
	Title    string `json:"title"`
}

// QueryHistory extracts the session list from the sessions page and filters
// it to the requested range. The page stays private to this call so queries
// can run concurrently; it is closed on success and retained for diagnostics
// on failure.
func (s *Surface) QueryHistory(ctx context.Context, rng schedule.DateRange, cred *schedule.Credential) ([]schedule.SessionRecord, error) {
	page, err := s.authedPage(ctx, cred, s.url(s.cfg.SessionsPath))
	if err != nil {
		return nil, err
	}

	records, err := s.extractSessions(ctx, page, rng)
	if err != nil {
		s.retain(page)
		return nil, err
	}
	_ = page.Close()
	return records, nil
}

func (s *Surface) extractSessions(ctx context.Context, page *rod.Page, rng schedule.DateRange) ([]schedule.SessionRecord, error) {
	res, err := page.Context(ctx).Timeout(s.cfg.ActionTimeout()).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const rows = Array.from(document.querySelectorAll('[data-session-id]'));
			return rows.map((el) => ({
				id: el.getAttribute('data-session-id') || '',
				start: el.getAttribute('data-start') || '',
				end: el.getAttribute('data-end') || '',
				duration: parseInt(el.getAttribute('data-duration') || '0', 10),
				status: el.getAttribute('data-status') || '',
				partner: el.getAttribute('data-partner') || '',
				title: el.getAttribute('data-title') || ''
			}));
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "extracting session list")
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "encoding session list")
	}
	var rows []sessionRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "decoding session list")
	}

	now := time.Now()
	records := make([]schedule.SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := parseSessionRow(row, now)
		if err != nil {
			log.Printf("skipping malformed session row %q: %v", row.ID, err)
			continue
		}
		if rng.Contains(rec.StartTime) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})
	return records, nil
}

// parseSessionRow normalizes one extracted row into a SessionRecord. Rows
// without a parseable start time are rejected; end and duration repair each
// other when one is missing.
func parseSessionRow(row sessionRow, now time.Time) (schedule.SessionRecord, error) {
	start, err := time.Parse(time.RFC3339, row.Start)
	if err != nil {
		return schedule.SessionRecord{}, fmt.Errorf("parse start %q: %w", row.Start, err)
	}

	dur := schedule.Duration(row.Duration)
	end, endErr := time.Parse(time.RFC3339, row.End)
	switch {
	case dur > 0:
		end = start.Add(dur.Length())
	case endErr == nil && end.After(start):
		dur = schedule.Duration(end.Sub(start) / time.Minute)
	default:
		return schedule.SessionRecord{}, fmt.Errorf("row has neither duration nor usable end time")
	}

	id := row.ID
	if id == "" {
		id = "local-" + uuid.NewString()
	}

	return schedule.SessionRecord{
		ID:        id,
		StartTime: start,
		EndTime:   end,
		Duration:  dur,
		Status:    schedule.DeriveStatus(now, start, end, row.Status, row.Partner),
		Partner:   row.Partner,
		Title:     row.Title,
	}, nil
}

// authedPage opens a page at the given URL with the credential restored and
// verifies the surface still presents an authenticated view. The auth check
// runs before any other classification so a dead session surfaces as
// AUTH_EXPIRED instead of a misleading generic failure. On success the page
// is returned private (not retained); on failure it is retained so the
// diagnostic capturer photographs what actually went wrong.
func (s *Surface) authedPage(ctx context.Context, cred *schedule.Credential, url string) (*rod.Page, error) {
	if err := s.Start(ctx); err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "starting browser")
	}
	if cred == nil {
		return nil, schedule.NewFailure(schedule.KindAuthExpired, "no credential supplied")
	}

	page, err := s.openPage(ctx, "")
	if err != nil {
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "opening page")
	}
	if err := restoreCredential(page, cred); err != nil {
		s.retain(page)
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "restoring credential")
	}
	if err := page.Timeout(s.cfg.NavigationTimeout()).Navigate(url); err != nil {
		s.retain(page)
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "navigate %s", url)
	}
	if err := page.Timeout(s.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		s.retain(page)
		return nil, schedule.WrapFailure(schedule.KindActionFailed, err, "wait load %s", url)
	}
	restoreStorage(page, cred.LocalStorage)

	if !s.isAuthenticated(page) {
		s.retain(page)
		return nil, schedule.NewFailure(schedule.KindAuthExpired,
			"remote surface rejected the stored credential")
	}
	return page, nil
}

// isAuthenticated checks whether the page presents an authenticated view:
// not bounced to the login path, and carrying the authed marker.
func (s *Surface) isAuthenticated(page *rod.Page) bool {
	if info, err := page.Info(); err == nil && s.cfg.LoginPath != "" {
		if strings.Contains(info.URL, s.cfg.LoginPath) {
			return false
		}
	}
	has, _, err := page.Has(s.cfg.AuthedMarker)
	return err == nil && has
}

func (s *Surface) calendarURL(start time.Time) string {
	return s.url(s.cfg.CalendarPath) + "?date=" + start.UTC().Format("2006-01-02")
}

func bannerText(el *rod.Element, fallback string) string {
	if el == nil {
		return fallback
	}
	text, err := el.Text()
	if err != nil || strings.TrimSpace(text) == "" {
		return fallback
	}
	return strings.TrimSpace(text)
}
