package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerTokenExtraction(t *testing.T) {
	cases := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "standard", header: "Bearer abc", want: "abc"},
		{name: "case insensitive scheme", header: "bearer abc", want: "abc"},
		{name: "wrong scheme", header: "Token abc", want: ""},
		{name: "scheme only", header: "Bearer", want: ""},
		{name: "empty", want: ""},
		{name: "cookie fallback", cookie: "cookie-token", want: "cookie-token"},
		{name: "header wins over cookie", header: "Bearer abc", cookie: "cookie-token", want: "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				r.AddCookie(&http.Cookie{Name: accessCookieName, Value: tc.cookie})
			}
			if got := bearerToken(r); got != tc.want {
				t.Fatalf("bearerToken = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestProtectedPathRequiresToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/users/me", nil, nil)
	c.wantStatus(resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.get("/v1/users/me", nil, bearer("not-a-token"))
	c.wantStatus(resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestCookieAuthOnProtectedPath(t *testing.T) {
	c := newTestAPI(t)

	reg := c.post("/v1/auth/register", map[string]string{
		"full_name": "Jane Doe",
		"email":     "jane@example.com",
		"password":  "s3cret-pass",
	}, nil)
	c.wantStatus(reg, http.StatusCreated)
	var accessCookie *http.Cookie
	for _, ck := range reg.Cookies() {
		if ck.Name == accessCookieName {
			accessCookie = ck
		}
	}
	reg.Body.Close()
	if accessCookie == nil {
		t.Fatal("no access cookie set on register")
	}

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/users/me", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.AddCookie(accessCookie)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	c.wantStatus(resp, http.StatusOK)
	resp.Body.Close()
}

func TestPublicPathsSkipAuth(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/openapi.yaml"} {
		resp := c.get(path, nil, nil)
		if resp.StatusCode == http.StatusUnauthorized {
			t.Fatalf("%s unexpectedly requires auth", path)
		}
		resp.Body.Close()
	}
}
