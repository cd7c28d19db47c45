package mcp

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"sessionmate-mcp-server/internal/config"
	"sessionmate-mcp-server/internal/credstore"
	"sessionmate-mcp-server/internal/dispatch"
	"sessionmate-mcp-server/internal/schedule"
)

// stubGateway is a scriptable gateway: each operation returns the canned
// value or error.
type stubGateway struct {
	authErr   error
	bookErr   error
	cancelErr error
	listErr   error

	bookResult *schedule.SessionRecord
	listResult []schedule.SessionRecord
}

func (g *stubGateway) Authenticate(_ context.Context, _ bool) (*schedule.Credential, error) {
	if g.authErr != nil {
		return nil, g.authErr
	}
	return &schedule.Credential{
		Cookies: []schedule.CookieRecord{{Name: "sid", Value: "abc", Domain: "example.com", Path: "/"}},
	}, nil
}

func (g *stubGateway) PerformBooking(_ context.Context, req schedule.BookingRequest, _ *schedule.Credential) (*schedule.SessionRecord, error) {
	if g.bookErr != nil {
		return nil, g.bookErr
	}
	if g.bookResult != nil {
		return g.bookResult, nil
	}
	return &schedule.SessionRecord{
		ID:        "sess-1",
		StartTime: req.StartTime,
		Duration:  req.Duration,
	}, nil
}

func (g *stubGateway) PerformCancellation(_ context.Context, sessionID string, _ *schedule.Credential) (*schedule.Confirmation, error) {
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return &schedule.Confirmation{SessionID: sessionID}, nil
}

func (g *stubGateway) QueryHistory(_ context.Context, _ schedule.DateRange, _ *schedule.Credential) ([]schedule.SessionRecord, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.listResult, nil
}

var testClock = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T, gw *stubGateway) *Server {
	t.Helper()

	store, err := credstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("credstore.Open failed: %v", err)
	}

	dispatcher := dispatch.New(gw, store, nil, dispatch.Options{
		Now: func() time.Time { return testClock },
	})

	cfg := config.Config{
		Server: config.ServerConfig{Name: "test-server", Version: "1.0.0"},
	}

	server, err := NewServer(cfg, dispatcher)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server
}

func authenticate(t *testing.T, server *Server) {
	t.Helper()
	result, err := server.ExecuteTool("authenticate", map[string]interface{}{})
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if !result.(map[string]interface{})["success"].(bool) {
		t.Fatalf("authenticate returned failure: %v", result)
	}
}

func TestNewServer(t *testing.T) {
	server := setupTestServer(t, &stubGateway{})

	if server.tools == nil {
		t.Fatal("expected tools map to be initialized")
	}

	expectedTools := []string{
		"authenticate",
		"book-session",
		"cancel-session",
		"list-sessions",
		"auth-status",
	}
	if len(server.tools) != len(expectedTools) {
		t.Errorf("expected %d tools, got %d", len(expectedTools), len(server.tools))
	}
	for _, name := range expectedTools {
		if _, exists := server.tools[name]; !exists {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}

func TestToolInterface(t *testing.T) {
	server := setupTestServer(t, &stubGateway{})

	t.Run("all tools have valid names", func(t *testing.T) {
		for name, tool := range server.tools {
			if tool.Name() != name {
				t.Errorf("tool registered as %q but Name() returns %q", name, tool.Name())
			}
		}
	})

	t.Run("all tools have descriptions", func(t *testing.T) {
		for name, tool := range server.tools {
			if tool.Description() == "" {
				t.Errorf("tool %q has empty description", name)
			}
		}
	})

	t.Run("all tools have valid schemas", func(t *testing.T) {
		for name, tool := range server.tools {
			schema := tool.InputSchema()
			if schema == nil {
				t.Errorf("tool %q has nil schema", name)
				continue
			}
			if schema["type"] != "object" {
				t.Errorf("tool %q schema type is not 'object': %v", name, schema["type"])
			}
			if _, err := json.Marshal(schema); err != nil {
				t.Errorf("tool %q schema does not marshal: %v", name, err)
			}
		}
	})
}

func TestExecuteTool(t *testing.T) {
	server := setupTestServer(t, &stubGateway{})

	t.Run("execute non-existent tool", func(t *testing.T) {
		_, err := server.ExecuteTool("non-existent-tool", map[string]interface{}{})
		if err == nil {
			t.Error("expected error for non-existent tool")
		}
	})

	t.Run("auth-status works without credential", func(t *testing.T) {
		result, err := server.ExecuteTool("auth-status", map[string]interface{}{})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["authenticated"].(bool) {
			t.Error("expected authenticated=false before login")
		}
	})
}

func TestAuthenticateTool(t *testing.T) {
	t.Run("stores credential and reports success", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})

		result, err := server.ExecuteTool("authenticate", map[string]interface{}{})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if !resultMap["success"].(bool) {
			t.Fatalf("expected success, got %v", resultMap)
		}
		if resultMap["message"] == "" {
			t.Error("expected non-empty message")
		}

		status, err := server.ExecuteTool("auth-status", nil)
		if err != nil {
			t.Fatalf("auth-status failed: %v", err)
		}
		statusMap := status.(map[string]interface{})
		if !statusMap["authenticated"].(bool) {
			t.Error("expected authenticated=true after login")
		}
		if !statusMap["fresh"].(bool) {
			t.Error("expected fresh credential right after login")
		}
	})

	t.Run("gateway timeout maps to envelope", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{
			authErr: schedule.NewFailure(schedule.KindAuthTimeout, "login not completed in time"),
		})

		result, err := server.ExecuteTool("authenticate", map[string]interface{}{"force": true})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if resultMap["success"].(bool) {
			t.Fatal("expected failure envelope")
		}
		if resultMap["errorCode"] != string(schedule.KindAuthTimeout) {
			t.Errorf("expected AUTH_TIMEOUT, got %v", resultMap["errorCode"])
		}
	})
}

func TestBookSessionTool(t *testing.T) {
	futureSlot := testClock.Add(2 * time.Hour) // 14:00, on the grid

	t.Run("books and returns session", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})
		authenticate(t, server)

		result, err := server.ExecuteTool("book-session", map[string]interface{}{
			"start_time": futureSlot.Format(time.RFC3339),
			"duration":   50,
		})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if !resultMap["success"].(bool) {
			t.Fatalf("expected success, got %v", resultMap)
		}
		rec := resultMap["session"].(*schedule.SessionRecord)
		if rec.ID != "sess-1" {
			t.Errorf("unexpected session id %q", rec.ID)
		}
		if !rec.EndTime.Equal(futureSlot.Add(50 * time.Minute)) {
			t.Errorf("end time not normalized: %v", rec.EndTime)
		}
	})

	t.Run("missing start_time", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})

		result, _ := server.ExecuteTool("book-session", map[string]interface{}{"duration": 25})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindInvalidTime) {
			t.Errorf("expected INVALID_TIME, got %v", resultMap["errorCode"])
		}
	})

	t.Run("malformed start_time", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})

		result, _ := server.ExecuteTool("book-session", map[string]interface{}{
			"start_time": "tomorrow at 3",
			"duration":   25,
		})
		resultMap := result.(map[string]interface{})
		if resultMap["success"].(bool) {
			t.Fatal("expected failure envelope")
		}
		if resultMap["errorCode"] != string(schedule.KindInvalidTime) {
			t.Errorf("expected INVALID_TIME, got %v", resultMap["errorCode"])
		}
	})

	t.Run("unsupported duration", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})
		authenticate(t, server)

		result, _ := server.ExecuteTool("book-session", map[string]interface{}{
			"start_time": futureSlot.Format(time.RFC3339),
			"duration":   30,
		})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindInvalidTime) {
			t.Errorf("expected INVALID_TIME, got %v", resultMap["errorCode"])
		}
	})

	t.Run("without credential", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})

		result, _ := server.ExecuteTool("book-session", map[string]interface{}{
			"start_time": futureSlot.Format(time.RFC3339),
			"duration":   25,
		})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindAuthRequired) {
			t.Errorf("expected AUTH_REQUIRED, got %v", resultMap["errorCode"])
		}
	})

	t.Run("slot taken", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{
			bookErr: schedule.NewFailure(schedule.KindSlotUnavailable, "slot already booked"),
		})
		authenticate(t, server)

		result, _ := server.ExecuteTool("book-session", map[string]interface{}{
			"start_time": futureSlot.Format(time.RFC3339),
			"duration":   25,
		})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindSlotUnavailable) {
			t.Errorf("expected SLOT_UNAVAILABLE, got %v", resultMap["errorCode"])
		}
		if resultMap["error"] == "" {
			t.Error("expected non-empty error message")
		}
	})
}

func TestCancelSessionTool(t *testing.T) {
	t.Run("cancels by id", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})
		authenticate(t, server)

		result, err := server.ExecuteTool("cancel-session", map[string]interface{}{"session_id": "sess-9"})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if !resultMap["success"].(bool) {
			t.Fatalf("expected success, got %v", resultMap)
		}
		if resultMap["message"] == "" {
			t.Error("expected message mentioning the cancelled session")
		}
	})

	t.Run("missing session_id", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})
		authenticate(t, server)

		result, _ := server.ExecuteTool("cancel-session", map[string]interface{}{})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindSessionNotFound) {
			t.Errorf("expected SESSION_NOT_FOUND, got %v", resultMap["errorCode"])
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{
			cancelErr: schedule.NewFailure(schedule.KindSessionNotFound, "no session with id nope"),
		})
		authenticate(t, server)

		result, _ := server.ExecuteTool("cancel-session", map[string]interface{}{"session_id": "nope"})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindSessionNotFound) {
			t.Errorf("expected SESSION_NOT_FOUND, got %v", resultMap["errorCode"])
		}
	})
}

func TestListSessionsTool(t *testing.T) {
	rangeStart := testClock.Add(-24 * time.Hour)

	t.Run("returns sessions and count", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{
			listResult: []schedule.SessionRecord{
				{ID: "a", StartTime: testClock.Add(time.Hour), Duration: 25, Status: schedule.StatusPending},
				{ID: "b", StartTime: testClock.Add(2 * time.Hour), Duration: 50, Status: schedule.StatusMatched},
			},
		})
		authenticate(t, server)

		result, err := server.ExecuteTool("list-sessions", map[string]interface{}{
			"start_date": rangeStart.Format(time.RFC3339),
		})
		if err != nil {
			t.Fatalf("ExecuteTool failed: %v", err)
		}
		resultMap := result.(map[string]interface{})
		if !resultMap["success"].(bool) {
			t.Fatalf("expected success, got %v", resultMap)
		}
		if resultMap["totalCount"].(int) != 2 {
			t.Errorf("expected totalCount 2, got %v", resultMap["totalCount"])
		}
	})

	t.Run("empty result keeps list shape", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})
		authenticate(t, server)

		result, _ := server.ExecuteTool("list-sessions", map[string]interface{}{
			"start_date": rangeStart.Format(time.RFC3339),
		})
		resultMap := result.(map[string]interface{})
		if resultMap["sessions"] == nil {
			t.Error("expected sessions key even when empty")
		}
		if resultMap["totalCount"].(int) != 0 {
			t.Errorf("expected totalCount 0, got %v", resultMap["totalCount"])
		}
	})

	t.Run("without credential keeps list shape", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})

		result, _ := server.ExecuteTool("list-sessions", map[string]interface{}{
			"start_date": rangeStart.Format(time.RFC3339),
		})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindAuthRequired) {
			t.Errorf("expected AUTH_REQUIRED, got %v", resultMap["errorCode"])
		}
		if resultMap["totalCount"].(int) != 0 {
			t.Errorf("expected totalCount 0, got %v", resultMap["totalCount"])
		}
	})

	t.Run("missing start_date", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})

		result, _ := server.ExecuteTool("list-sessions", map[string]interface{}{})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindInvalidDateRange) {
			t.Errorf("expected INVALID_DATE_RANGE, got %v", resultMap["errorCode"])
		}
		if resultMap["sessions"] == nil || resultMap["totalCount"].(int) != 0 {
			t.Errorf("failure envelope must keep sessions/totalCount shape: %v", resultMap)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})
		authenticate(t, server)

		result, _ := server.ExecuteTool("list-sessions", map[string]interface{}{
			"start_date": rangeStart.Format(time.RFC3339),
			"end_date":   rangeStart.Add(-time.Hour).Format(time.RFC3339),
		})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindInvalidDateRange) {
			t.Errorf("expected INVALID_DATE_RANGE, got %v", resultMap["errorCode"])
		}
	})

	t.Run("malformed end_date", func(t *testing.T) {
		server := setupTestServer(t, &stubGateway{})
		authenticate(t, server)

		result, _ := server.ExecuteTool("list-sessions", map[string]interface{}{
			"start_date": rangeStart.Format(time.RFC3339),
			"end_date":   "next week",
		})
		resultMap := result.(map[string]interface{})
		if resultMap["errorCode"] != string(schedule.KindInvalidDateRange) {
			t.Errorf("expected INVALID_DATE_RANGE, got %v", resultMap["errorCode"])
		}
	})
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("test-tool", map[string]interface{}{
		"bad": math.NaN(),
	})
	if len(payload) == 0 {
		t.Fatal("expected non-empty payload")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload should always be valid JSON: %v", err)
	}
	if success, _ := decoded["success"].(bool); success {
		t.Fatalf("expected success=false fallback payload, got %v", decoded)
	}
	if decoded["error"] == nil {
		t.Fatalf("expected fallback payload to include error, got %v", decoded)
	}
}
