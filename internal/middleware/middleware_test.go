package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

const testSecret = "test-secret"

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(caller)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestAuthenticatorBearerToken(t *testing.T) {
	auth := NewAuthenticator(testSecret, false)
	want := model.Caller{ID: "client_1", Role: model.RoleClient}
	token, err := IssueToken(testSecret, want, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware(callerEcho()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got model.Caller
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("caller = %+v, want %+v", got, want)
	}
}

func TestAuthenticatorRejects(t *testing.T) {
	valid := model.Caller{ID: "provider_1", Role: model.RoleProvider}
	expired, _ := IssueToken(testSecret, valid, -time.Minute)
	wrongKey, _ := IssueToken("other-secret", valid, time.Hour)
	noRole, _ := IssueToken(testSecret, model.Caller{ID: "x"}, time.Hour)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: model.RoleClient})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name     string
		headers  map[string]string
		wantCode string
	}{
		{"no credentials", nil, "authentication_required"},
		{"expired token", map[string]string{"Authorization": "Bearer " + expired}, "invalid_token"},
		{"wrong key", map[string]string{"Authorization": "Bearer " + wrongKey}, "invalid_token"},
		{"missing role", map[string]string{"Authorization": "Bearer " + noRole}, "invalid_token"},
		{"alg none", map[string]string{"Authorization": "Bearer " + unsigned}, "invalid_token"},
		{"dev headers disabled", map[string]string{"X-Caller-ID": "client_1", "X-Caller-Role": "client"}, "authentication_required"},
	}
	auth := NewAuthenticator(testSecret, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			auth.Middleware(callerEcho()).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if code := decodeError(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestAuthenticatorDevHeaders(t *testing.T) {
	auth := NewAuthenticator("", true)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Caller-ID", "provider_1")
	req.Header.Set("X-Caller-Role", "service_provider")
	rec := httptest.NewRecorder()
	auth.Middleware(callerEcho()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Caller-ID", "provider_1")
	req.Header.Set("X-Caller-Role", "admin")
	rec = httptest.NewRecorder()
	auth.Middleware(callerEcho()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAPIKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireAPIKey("wallet-key")(ok)

	tests := []struct {
		header string
		want   int
	}{
		{"Bearer wallet-key", http.StatusNoContent},
		{"Bearer nope", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/internal/payments/settled", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("Authorization %q: status = %d, want %d", tt.header, rec.Code, tt.want)
		}
	}

	rec := httptest.NewRecorder()
	RequireAPIKey("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("disabled check: status = %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_given")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req_given" || rec.Header().Get("X-Request-ID") != "req_given" {
		t.Errorf("request id = %q, header = %q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req_given" {
		t.Errorf("generated request id = %q", seen)
	}
}

func TestRecovery(t *testing.T) {
	h := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := decodeError(t, rec); code != "internal_error" {
		t.Errorf("code = %q", code)
	}
}

func TestLoggingCapturesStatus(t *testing.T) {
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("x"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}
