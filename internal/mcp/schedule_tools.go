package mcp

import (
	"context"
	"time"

	"sessionmate-mcp-server/internal/dispatch"
	"sessionmate-mcp-server/internal/schedule"
)

// failureEnvelope renders a classified failure into the uniform tool payload.
// Extra keys let list-sessions keep its sessions/totalCount shape on failure.
func failureEnvelope(err error, extra map[string]interface{}) map[string]interface{} {
	f := schedule.AsFailure(err)
	out := map[string]interface{}{
		"success":   false,
		"error":     f.Message,
		"errorCode": string(f.Kind),
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

type AuthenticateTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *AuthenticateTool) Name() string { return "authenticate" }
func (t *AuthenticateTool) Description() string {
	return `Establish an authenticated session with the scheduling site.

Opens the login page in the managed browser and waits for you to complete
the login interactively, then captures and stores the resulting credential
on disk. A stored credential that is still fresh is reused without opening
the browser at all.

WHEN TO USE:
- Before the first book/cancel/list call of a working session
- After any tool returns errorCode AUTH_REQUIRED or AUTH_EXPIRED

Set force=true to discard the stored credential and log in again even when
the existing one is still fresh.

Returns: {success, message, errorCode?}`
}
func (t *AuthenticateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"force": map[string]interface{}{
				"type":        "boolean",
				"description": "Discard the stored credential and re-authenticate even if it is still fresh",
			},
		},
	}
}
func (t *AuthenticateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	force := getBoolArg(args, "force", false)

	msg, err := t.dispatcher.Authenticate(ctx, force)
	if err != nil {
		return failureEnvelope(err, nil), nil
	}
	return map[string]interface{}{
		"success": true,
		"message": msg,
	}, nil
}

type BookSessionTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *BookSessionTool) Name() string { return "book-session" }
func (t *BookSessionTool) Description() string {
	return `Book a focus session at a specific start time.

start_time must be RFC3339, strictly in the future, and aligned to the
site's slot grid (15-minute boundaries by default). duration is minutes
and must be one of 25, 50, or 75. Validation happens locally before any
browser action; an invalid request never reaches the site.

PREREQUISITE: authenticate first. Without a stored credential this
returns errorCode AUTH_REQUIRED.

Common failure codes: INVALID_TIME (past, off-grid, or bad duration),
SLOT_UNAVAILABLE (someone else took it), SESSION_CONFLICT (you already
have a session overlapping that time), AUTH_EXPIRED.

Returns: {success, session?, error?, errorCode?} where session is
{id, start_time, end_time, duration, status, partner?, title?}.`
}
func (t *BookSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"start_time": map[string]interface{}{
				"type":        "string",
				"description": "Session start, RFC3339 (e.g. 2026-03-14T15:00:00Z)",
			},
			"duration": map[string]interface{}{
				"type":        "integer",
				"description": "Session length in minutes: 25, 50, or 75",
				"enum":        []int{25, 50, 75},
			},
		},
		"required": []string{"start_time", "duration"},
	}
}
func (t *BookSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	start, ok, err := parseTimeArg(args, "start_time")
	if err != nil {
		return failureEnvelope(schedule.NewFailure(schedule.KindInvalidTime, "%v", err), nil), nil
	}
	if !ok {
		return failureEnvelope(schedule.NewFailure(schedule.KindInvalidTime, "start_time is required"), nil), nil
	}

	req := schedule.BookingRequest{
		StartTime: start,
		Duration:  schedule.Duration(getIntArg(args, "duration", 0)),
	}

	rec, err := t.dispatcher.Book(ctx, req)
	if err != nil {
		return failureEnvelope(err, nil), nil
	}
	return map[string]interface{}{
		"success": true,
		"session": rec,
	}, nil
}

type CancelSessionTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *CancelSessionTool) Name() string { return "cancel-session" }
func (t *CancelSessionTool) Description() string {
	return `Cancel an existing session by its id.

Use list-sessions first to find the session id. Cancelling a session that
does not exist (or was already cancelled) returns errorCode
SESSION_NOT_FOUND.

PREREQUISITE: authenticate first.

Returns: {success, message, errorCode?}`
}
func (t *CancelSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Id of the session to cancel",
			},
		},
		"required": []string{"session_id"},
	}
}
func (t *CancelSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")

	conf, err := t.dispatcher.Cancel(ctx, sessionID)
	if err != nil {
		return failureEnvelope(err, nil), nil
	}

	msg := conf.Message
	if msg == "" {
		msg = "session " + conf.SessionID + " cancelled"
	}
	return map[string]interface{}{
		"success": true,
		"message": msg,
	}, nil
}

type ListSessionsTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List booked sessions within a date range.

start_date is required (RFC3339). end_date is optional and defaults to
start_date plus 14 days; when given it must not precede start_date.
Results are sorted by start time and include past sessions, so this also
serves as history.

PREREQUISITE: authenticate first.

Returns: {success, sessions, totalCount, error?, errorCode?} where each
session is {id, start_time, end_time, duration, status, partner?, title?}.`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"start_date": map[string]interface{}{
				"type":        "string",
				"description": "Range start, RFC3339",
			},
			"end_date": map[string]interface{}{
				"type":        "string",
				"description": "Range end, RFC3339; defaults to start_date + 14 days",
			},
		},
		"required": []string{"start_date"},
	}
}
func (t *ListSessionsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	emptyList := map[string]interface{}{
		"sessions":   []schedule.SessionRecord{},
		"totalCount": 0,
	}

	start, ok, err := parseTimeArg(args, "start_date")
	if err != nil {
		return failureEnvelope(schedule.NewFailure(schedule.KindInvalidDateRange, "%v", err), emptyList), nil
	}
	if !ok {
		return failureEnvelope(schedule.NewFailure(schedule.KindInvalidDateRange, "start_date is required"), emptyList), nil
	}

	end, _, err := parseTimeArg(args, "end_date")
	if err != nil {
		return failureEnvelope(schedule.NewFailure(schedule.KindInvalidDateRange, "%v", err), emptyList), nil
	}

	records, err := t.dispatcher.List(ctx, start, end)
	if err != nil {
		return failureEnvelope(err, emptyList), nil
	}
	if records == nil {
		records = []schedule.SessionRecord{}
	}
	return map[string]interface{}{
		"success":    true,
		"sessions":   records,
		"totalCount": len(records),
	}, nil
}

type AuthStatusTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *AuthStatusTool) Name() string { return "auth-status" }
func (t *AuthStatusTool) Description() string {
	return `Report the stored credential's state without touching the site.

Cheap pre-flight check: tells you whether a credential exists, how old it
is, and whether it is still fresh enough for authenticate to reuse. Never
opens the browser.

Returns: {authenticated, age_seconds?, fresh}`
}
func (t *AuthStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *AuthStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	authenticated, age, fresh := t.dispatcher.Status()
	out := map[string]interface{}{
		"authenticated": authenticated,
		"fresh":         fresh,
	}
	if authenticated {
		out["age_seconds"] = int(age / time.Second)
	}
	return out, nil
}
