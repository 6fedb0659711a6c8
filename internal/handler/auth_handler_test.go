package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/auth"
)

func TestVerifyForwardsPrincipal(t *testing.T) {
	h := NewAuthHandler(auth.NewAuthenticator(nil, "secret"))
	app := fiber.New()
	app.Get("/auth/verify", h.Verify)

	token, err := auth.IssueLegacyToken("secret", "user-7", "u7@example.com", []string{auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name     string
		uri      string
		header   string
		status   int
		wantUser string
	}{
		{"bearer header", "/api/renders/job-1", "Bearer " + token, fiber.StatusOK, "user-7"},
		{"progress subscription token", "/ws/renders/job-1?access_token=" + token, "", fiber.StatusOK, "user-7"},
		{"query token outside websocket routes", "/api/renders/job-1?access_token=" + token, "", fiber.StatusUnauthorized, ""},
		{"worker callback", "/api/worker/renders/job-1/complete", "Bearer worker-key", fiber.StatusOK, ""},
		{"missing token", "/api/renders/job-1", "", fiber.StatusUnauthorized, ""},
		{"bad token", "/api/renders/job-1", "Bearer nope", fiber.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/auth/verify", nil)
		req.Header.Set("X-Forwarded-Uri", tc.uri)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.status)
		}
		if got := resp.Header.Get("X-User-Id"); got != tc.wantUser {
			t.Errorf("%s: X-User-Id = %q, want %q", tc.name, got, tc.wantUser)
		}
		if tc.wantUser != "" && resp.Header.Get("X-User-Roles") != auth.RoleAdmin {
			t.Errorf("%s: X-User-Roles = %q", tc.name, resp.Header.Get("X-User-Roles"))
		}
	}
}

func TestVerifyWithoutConfiguredAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/auth/verify", NewAuthHandler(auth.NewAuthenticator(nil, "")).Verify)
	req := httptest.NewRequest("GET", "/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
