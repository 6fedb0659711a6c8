package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/trackfeedback/api/internal/auth"
)

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	chain := append(handlers, func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c))
	})
	app.Get("/", chain...)
	return app
}

func do(t *testing.T, app *fiber.App, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestAuthenticateLegacy(t *testing.T) {
	m := NewLegacyAuthMiddleware("secret")
	app := newApp(m.Authenticate())

	token, err := m.GenerateToken("user-1", "u@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if code, body := do(t, app, map[string]string{"Authorization": "Bearer " + token}); code != 200 || body != "user-1" {
		t.Errorf("valid token: %d %q", code, body)
	}
	if code, _ := do(t, app, nil); code != fiber.StatusUnauthorized {
		t.Errorf("missing header: %d", code)
	}
	if code, _ := do(t, app, map[string]string{"Authorization": "Token abc"}); code != fiber.StatusUnauthorized {
		t.Errorf("bad scheme: %d", code)
	}
	if code, _ := do(t, app, map[string]string{"Authorization": "Bearer nope"}); code != fiber.StatusUnauthorized {
		t.Errorf("bad token: %d", code)
	}
}

func TestAuthenticateAccessTokenOnUpgrade(t *testing.T) {
	m := NewLegacyAuthMiddleware("secret")
	app := fiber.New()
	app.Get("/ws/renders/:jobId", m.Authenticate(), func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c))
	})
	token, err := m.GenerateToken("listener", "l@example.com")
	if err != nil {
		t.Fatal(err)
	}

	request := func(upgrade bool) (int, string) {
		req := httptest.NewRequest("GET", "/ws/renders/job-1?"+AccessTokenParam+"="+token, nil)
		if upgrade {
			req.Header.Set("Connection", "Upgrade")
			req.Header.Set("Upgrade", "websocket")
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := request(true); code != 200 || body != "listener" {
		t.Errorf("upgrade with token: %d %q", code, body)
	}
	if code, _ := request(false); code != fiber.StatusUnauthorized {
		t.Errorf("plain request with query token: %d", code)
	}
}

func TestRequireRole(t *testing.T) {
	m := NewLegacyAuthMiddleware("secret")
	app := newApp(m.Authenticate(), RequireRole(auth.RoleAdmin))

	admin, _ := auth.IssueLegacyToken("secret", "boss", "", []string{auth.RoleAdmin}, time.Hour)
	reviewer, _ := auth.IssueLegacyToken("secret", "rev", "", []string{auth.RoleReviewer}, time.Hour)

	if code, _ := do(t, app, map[string]string{"Authorization": "Bearer " + admin}); code != 200 {
		t.Errorf("admin: %d", code)
	}
	if code, _ := do(t, app, map[string]string{"Authorization": "Bearer " + reviewer}); code != fiber.StatusForbidden {
		t.Errorf("reviewer: %d", code)
	}
}

func TestGatewayAuthRoles(t *testing.T) {
	app := newApp(GatewayAuthMiddleware(), RequireRole(auth.RoleAdmin))

	if code, _ := do(t, app, nil); code != fiber.StatusUnauthorized {
		t.Errorf("no identity: %d", code)
	}
	headers := map[string]string{"X-User-Id": "u", "X-User-Roles": "reviewer, admin"}
	if code, body := do(t, app, headers); code != 200 || body != "u" {
		t.Errorf("admin via gateway: %d %q", code, body)
	}
	headers["X-User-Roles"] = "reviewer"
	if code, _ := do(t, app, headers); code != fiber.StatusForbidden {
		t.Errorf("reviewer via gateway: %d", code)
	}
}

func TestWorkerKey(t *testing.T) {
	app := newApp(WorkerKey("k3y"))
	if code, body := do(t, app, map[string]string{"Authorization": "Bearer k3y"}); code != 200 || body != "worker" {
		t.Errorf("valid key: %d %q", code, body)
	}
	if code, _ := do(t, app, map[string]string{"Authorization": "Bearer wrong"}); code != fiber.StatusUnauthorized {
		t.Errorf("wrong key: %d", code)
	}
	if code, _ := do(t, newApp(WorkerKey("")), map[string]string{"Authorization": "Bearer "}); code != fiber.StatusUnauthorized {
		t.Errorf("empty key: %d", code)
	}
}

func TestRateLimiterDisabledWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil)
	app := newApp(GatewayAuthMiddleware(), rl.RenderLimit(1))
	headers := map[string]string{"X-User-Id": "u"}
	for i := 0; i < 3; i++ {
		if code, _ := do(t, app, headers); code != 200 {
			t.Fatalf("request %d: %d", i, code)
		}
	}
}
