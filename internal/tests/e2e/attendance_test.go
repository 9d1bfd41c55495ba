//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/absensi-app/apiserver/config"
	"github.com/absensi-app/apiserver/internal/db"
	"github.com/absensi-app/apiserver/internal/server"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
	password   = "testpass123!"
)

var pngPhoto = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 128)...)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	setTestEnv()

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := db.Migrate(config.LoadConfig().Database); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		shutdown(srv)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	shutdown(srv)
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestAttendanceLifecycle(t *testing.T) {
	api := newClient(t)
	email := fmt.Sprintf("employee_%d@example.com", time.Now().UnixNano())

	api.register(t, email)
	api.login(t, email)

	issued := api.clockIn(t)
	if !strings.HasPrefix(issued.QRCodeValue, "ABSEN-") {
		t.Fatalf("unexpected qr code: %q", issued.QRCodeValue)
	}

	status, env := api.verify(t, issued.QRCodeValue)
	if status != http.StatusOK {
		t.Fatalf("first verify status %d: %s", status, env.Message)
	}
	status, env = api.verify(t, issued.QRCodeValue)
	if status != http.StatusBadRequest {
		t.Fatalf("second verify status %d: %s", status, env.Message)
	}

	status, env = api.postJSON(t, "/api/v1/attendance/clockout", map[string]string{"attendanceId": issued.AttendanceID})
	if status != http.StatusOK {
		t.Fatalf("clock out status %d: %s", status, env.Message)
	}
	status, _ = api.postJSON(t, "/api/v1/attendance/clockout", map[string]string{"attendanceId": issued.AttendanceID})
	if status != http.StatusBadRequest {
		t.Fatalf("second clock out status %d", status)
	}
}

func TestConcurrentScansRedeemOnce(t *testing.T) {
	api := newClient(t)
	email := fmt.Sprintf("scanner_%d@example.com", time.Now().UnixNano())
	api.register(t, email)
	api.login(t, email)
	issued := api.clockIn(t)

	const scans = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = make(map[int]int)
	)
	for range scans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := 0
			resp, err := api.http.Get(api.baseURL + "/api/v1/attendance/verify-qr?code=" + url.QueryEscape(issued.QRCodeValue))
			if err == nil {
				status = resp.StatusCode
				_ = resp.Body.Close()
			}
			mu.Lock()
			statuses[status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[http.StatusOK] != 1 || statuses[http.StatusBadRequest] != scans-1 {
		t.Fatalf("unexpected scan outcomes: %v", statuses)
	}
}

func TestAdminDeletesUser(t *testing.T) {
	admin := newClient(t)
	adminEmail := fmt.Sprintf("admin_%d@example.com", time.Now().UnixNano())
	admin.register(t, adminEmail)
	if err := promoteUserToAdmin(adminEmail); err != nil {
		t.Fatalf("promote user: %v", err)
	}
	admin.login(t, adminEmail)

	employee := newClient(t)
	employeeEmail := fmt.Sprintf("leaver_%d@example.com", time.Now().UnixNano())
	employeeID := employee.register(t, employeeEmail)

	status, env := admin.do(t, http.MethodDelete, "/api/v1/users/"+employeeID, nil, "")
	if status != http.StatusOK {
		t.Fatalf("delete status %d: %s", status, env.Message)
	}
	status, _ = admin.do(t, http.MethodGet, "/api/v1/users/"+employeeID, nil, "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

type clockInResponse struct {
	AttendanceID string `json:"attendanceId"`
	QRCodeValue  string `json:"qrCodeValue"`
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &client{
		baseURL: fmt.Sprintf("http://localhost:%d", serverPort),
		http:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}
}

func (c *client) do(t *testing.T, method, path string, body io.Reader, contentType string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, string(raw), err)
		}
	}
	return resp.StatusCode, env
}

func (c *client) postJSON(t *testing.T, path string, payload any) (int, envelope) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return c.do(t, http.MethodPost, path, bytes.NewReader(body), "application/json")
}

func (c *client) register(t *testing.T, email string) string {
	t.Helper()
	status, env := c.postJSON(t, "/api/v1/auth/register", map[string]string{
		"email":           email,
		"name":            "Test Employee",
		"position":        "Engineer",
		"password":        password,
		"confirmPassword": password,
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %s %v", status, env.Message, env.Errors)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil || created.ID == "" {
		t.Fatalf("missing user id in register response: %v", err)
	}
	return created.ID
}

func (c *client) login(t *testing.T, email string) {
	t.Helper()
	status, env := c.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("login status %d: %s", status, env.Message)
	}
}

func (c *client) clockIn(t *testing.T) clockInResponse {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("lat", "-6.2")
	_ = writer.WriteField("lon", "106.8")
	part, err := writer.CreateFormFile("photo", "selfie.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(pngPhoto); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	status, env := c.do(t, http.MethodPost, "/api/v1/attendance", &body, writer.FormDataContentType())
	if status != http.StatusCreated {
		t.Fatalf("clock in status %d: %s %v", status, env.Message, env.Errors)
	}
	var issued clockInResponse
	if err := json.Unmarshal(env.Data, &issued); err != nil {
		t.Fatalf("decode clock in: %v", err)
	}
	return issued
}

func (c *client) verify(t *testing.T, code string) (int, envelope) {
	t.Helper()
	return c.do(t, http.MethodGet, "/api/v1/attendance/verify-qr?code="+url.QueryEscape(code), nil, "")
}

func promoteUserToAdmin(email string) error {
	conn, err := sql.Open("postgres", db.DSN(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, "UPDATE users SET role = 'ADMIN', updated_at = NOW() WHERE email = $1", email)
	return err
}

func setTestEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "absensi")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "absensi_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "absensi")
	_ = os.Setenv("MQ_BACKEND", "rabbitmq")
}

func waitForPostgres(ctx context.Context) error {
	conn, err := sql.Open("postgres", db.DSN(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func startServer(ctx context.Context) (*server.Server, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	srv, err := server.New(ctx, config.LoadConfig(), logger)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func shutdown(srv *server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
