package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"keygate.dev/internal/auth"
)

type captureMailer struct {
	links chan string
	codes chan string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{
		links: make(chan string, 4),
		codes: make(chan string, 4),
	}
}

func (m *captureMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.links <- link
	return nil
}

func (m *captureMailer) SendResetOTP(ctx context.Context, email, code string) error {
	m.codes <- code
	return nil
}

func (m *captureMailer) waitCode(t *testing.T) string {
	t.Helper()
	select {
	case v := <-m.codes:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no reset code dispatched")
		return ""
	}
}

func (m *captureMailer) waitLink(t *testing.T) string {
	t.Helper()
	select {
	case v := <-m.links:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no magic link dispatched")
		return ""
	}
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	mail    *captureMailer
}

func newTestAPI(t *testing.T, opts ...Option) *apiClient {
	t.Helper()

	codec, err := auth.NewCodec([]byte("test-secret"))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	mail := newCaptureMailer()
	svc, err := auth.NewService(auth.NewMemoryStore(), codec,
		auth.WithHasher(auth.NewHasher(bcrypt.MinCost)),
		auth.WithMailer(mail),
		auth.WithMagicLinkBaseURL("http://localhost/v1/auth/magic-link/verify"),
	)
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	base := []Option{WithRateLimit(1000, 1000)}
	api := New(svc, ReadyProbe{}, "test", append(base, opts...)...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		mail:    mail,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) patch(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPatch, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) decode(resp *http.Response, dst any) {
	c.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
}

func (c *apiClient) wantStatus(resp *http.Response, want int) {
	c.t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *apiClient) register(email, password string) tokenResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]string{
		"full_name": "Jane Doe",
		"email":     email,
		"password":  password,
	}, nil)
	c.wantStatus(resp, http.StatusCreated)
	var tokens tokenResponse
	c.decode(resp, &tokens)
	return tokens
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/info", nil, nil)
	c.wantStatus(resp, http.StatusOK)
	var info map[string]string
	c.decode(resp, &info)
	if info["service"] != "keygate-api" {
		t.Fatalf("service = %q", info["service"])
	}
	if info["version"] != "test" {
		t.Fatalf("version = %q", info["version"])
	}
}

func TestOpenAPIServed(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/openapi.yaml", nil, nil)
	c.wantStatus(resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "openapi:") {
		t.Fatal("openapi document not served")
	}
}

func TestRegisterLoginRefreshFlow(t *testing.T) {
	c := newTestAPI(t)

	first := c.register("jane@example.com", "s3cret-pass")
	if first.TokenType != "bearer" {
		t.Fatalf("token_type = %q", first.TokenType)
	}

	resp := c.get("/v1/users/me", nil, bearer(first.AccessToken))
	c.wantStatus(resp, http.StatusOK)
	var me userResponse
	c.decode(resp, &me)
	if me.Email != "jane@example.com" {
		t.Fatalf("email = %q", me.Email)
	}

	// a fresh login rotates the token family
	resp = c.post("/v1/auth/login", map[string]string{
		"email":    "jane@example.com",
		"password": "s3cret-pass",
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	var second tokenResponse
	c.decode(resp, &second)

	resp = c.get("/v1/users/me", nil, bearer(first.AccessToken))
	c.wantStatus(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.get("/v1/users/me", nil, bearer(second.AccessToken))
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/auth/refresh", map[string]string{
		"refresh_token": second.RefreshToken,
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	var refreshed map[string]any
	c.decode(resp, &refreshed)
	access, _ := refreshed["access_token"].(string)
	if access == "" {
		t.Fatal("no access token in refresh response")
	}

	resp = c.get("/v1/users/me", nil, bearer(access))
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()

	// the rotated-out refresh token no longer works
	resp = c.post("/v1/auth/refresh", map[string]string{
		"refresh_token": first.RefreshToken,
	}, nil)
	c.wantStatus(resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestRegisterDuplicateEmail(t *testing.T) {
	c := newTestAPI(t)
	c.register("jane@example.com", "s3cret-pass")

	resp := c.post("/v1/auth/register", map[string]string{
		"full_name": "Impostor",
		"email":     "jane@example.com",
		"password":  "other-pass",
	}, nil)
	c.wantStatus(resp, http.StatusConflict)
	resp.Body.Close()
}

func TestRegisterValidation(t *testing.T) {
	c := newTestAPI(t)

	cases := []map[string]string{
		{"full_name": "Jane", "password": "s3cret-pass"},
		{"full_name": "Jane", "email": "not-an-email", "password": "s3cret-pass"},
		{"full_name": "Jane", "email": "jane@example.com", "password": "short"},
	}
	for i, body := range cases {
		resp := c.post("/v1/auth/register", body, nil)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("case %d: status = %d, want 422", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	c := newTestAPI(t)
	c.register("jane@example.com", "s3cret-pass")

	read := func(body map[string]string) (int, string) {
		resp := c.post("/v1/auth/login", body, nil)
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		msg, _ := out["error"].(string)
		return resp.StatusCode, msg
	}

	unknownStatus, unknownMsg := read(map[string]string{
		"email": "nobody@example.com", "password": "whatever1",
	})
	badPassStatus, badPassMsg := read(map[string]string{
		"email": "jane@example.com", "password": "wrong-pass",
	})

	if unknownStatus != http.StatusUnauthorized || badPassStatus != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d, want 401", unknownStatus, badPassStatus)
	}
	if unknownMsg != badPassMsg {
		t.Fatalf("error bodies differ: %q vs %q", unknownMsg, badPassMsg)
	}
}

func TestRefreshViaCookie(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/register", map[string]string{
		"full_name": "Jane Doe",
		"email":     "jane@example.com",
		"password":  "s3cret-pass",
	}, nil)
	c.wantStatus(resp, http.StatusCreated)
	var refreshCookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == refreshCookieName {
			refreshCookie = ck
		}
	}
	resp.Body.Close()
	if refreshCookie == nil {
		t.Fatal("no refresh cookie set on register")
	}
	if !refreshCookie.HttpOnly {
		t.Fatal("refresh cookie must be HttpOnly")
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/auth/refresh", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(refreshCookie)
	out, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	c.wantStatus(out, http.StatusOK)
	out.Body.Close()
}

func TestPasswordResetFlow(t *testing.T) {
	c := newTestAPI(t)
	c.register("jane@example.com", "old-password")

	resp := c.post("/v1/auth/reset-password/otp", map[string]string{
		"email": "jane@example.com",
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	var known map[string]string
	c.decode(resp, &known)

	// unknown address gets the identical acknowledgement
	resp = c.post("/v1/auth/reset-password/otp", map[string]string{
		"email": "nobody@example.com",
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	var unknown map[string]string
	c.decode(resp, &unknown)
	if known["status"] != unknown["status"] {
		t.Fatalf("acks differ: %q vs %q", known["status"], unknown["status"])
	}

	code := c.mail.waitCode(t)

	resp = c.post("/v1/auth/reset-password/validate-otp", map[string]string{
		"email": "jane@example.com",
		"otp":   "000000",
	}, nil)
	if resp.StatusCode == http.StatusOK && code == "000000" {
		t.Skip("generated code collided with the test probe")
	}
	c.wantStatus(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/v1/auth/reset-password/validate-otp", map[string]string{
		"email": "jane@example.com",
		"otp":   code,
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()

	resp = c.patch("/v1/auth/reset-password", map[string]string{
		"email":    "jane@example.com",
		"password": "new-password",
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/auth/login", map[string]string{
		"email": "jane@example.com", "password": "old-password",
	}, nil)
	c.wantStatus(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/v1/auth/login", map[string]string{
		"email": "jane@example.com", "password": "new-password",
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()
}

func TestResetPasswordDoesNotRevealAccounts(t *testing.T) {
	c := newTestAPI(t)
	c.register("jane@example.com", "s3cret-pass")

	read := func(email string) (int, string) {
		resp := c.patch("/v1/auth/reset-password", map[string]string{
			"email":    email,
			"password": "brand-new-pass",
		}, nil)
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		msg, _ := out["error"].(string)
		return resp.StatusCode, msg
	}

	status, msg := read("nobody@example.com")
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if strings.Contains(msg, "not found") {
		t.Fatalf("error %q reveals account existence", msg)
	}

	if status2, _ := read("jane@example.com"); status2 != http.StatusOK {
		t.Fatalf("known account status = %d, want 200", status2)
	}
}

func TestMagicLinkFlow(t *testing.T) {
	c := newTestAPI(t)
	c.register("jane@example.com", "s3cret-pass")

	resp := c.post("/v1/auth/magic-link", map[string]string{
		"email": "jane@example.com",
	}, nil)
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()

	link := c.mail.waitLink(t)
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	token := parsed.Query().Get("token")
	if token == "" {
		t.Fatal("magic link carries no token")
	}

	resp = c.get("/v1/auth/magic-link/verify", url.Values{"token": {token}}, nil)
	c.wantStatus(resp, http.StatusOK)
	var tokens tokenResponse
	c.decode(resp, &tokens)

	me := c.get("/v1/users/me", nil, bearer(tokens.AccessToken))
	c.wantStatus(me, http.StatusOK)
	me.Body.Close()

	// a link is good exactly once
	resp = c.get("/v1/auth/magic-link/verify", url.Values{"token": {token}}, nil)
	c.wantStatus(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.get("/v1/auth/magic-link/verify", nil, nil)
	c.wantStatus(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestUpdateMe(t *testing.T) {
	c := newTestAPI(t)
	tokens := c.register("jane@example.com", "s3cret-pass")

	resp := c.patch("/v1/users/me", map[string]any{
		"full_name":            "Jane Q. Doe",
		"onboarding_completed": true,
	}, bearer(tokens.AccessToken))
	c.wantStatus(resp, http.StatusOK)
	var me userResponse
	c.decode(resp, &me)
	if me.FullName != "Jane Q. Doe" || !me.OnboardingCompleted {
		t.Fatalf("unexpected profile: %+v", me)
	}

	resp = c.patch("/v1/users/me", map[string]any{}, bearer(tokens.AccessToken))
	c.wantStatus(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestMalformedJSONRejected(t *testing.T) {
	c := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/auth/login",
		strings.NewReader(`{"email": `))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	c.wantStatus(resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/auth/login", nil, nil)
	c.wantStatus(resp, http.StatusMethodNotAllowed)
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow = %q", allow)
	}
	resp.Body.Close()
}
