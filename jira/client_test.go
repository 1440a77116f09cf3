package jira

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClientAccountLookups(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/token/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[{"id":"cloud-1","url":"https://acme.atlassian.net","name":"acme","scopes":["read:jira-work"]}]`)
	})
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"account_id":"5b10ac8d82e05b22cc7d4ef5","name":"Mia Krystof","email":"mia@example.com"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(&Config{HTTPClient: srv.Client(), Logger: discardLogger(), APIBaseURL: srv.URL + "/"})

	resources, err := c.AccessibleResources(context.Background(), "tok")
	if err != nil {
		t.Fatalf("AccessibleResources() error = %v", err)
	}
	if len(resources) != 1 || resources[0].ID != "cloud-1" || resources[0].URL != "https://acme.atlassian.net" {
		t.Errorf("AccessibleResources() = %+v", resources)
	}

	account, err := c.Me(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if account.AccountID != "5b10ac8d82e05b22cc7d4ef5" || account.Name != "Mia Krystof" {
		t.Errorf("Me() = %+v", account)
	}

	if _, err := c.AccessibleResources(context.Background(), "wrong"); !IsUpstreamFailure(err) {
		t.Errorf("AccessibleResources() with bad token error = %v, want UpstreamError", err)
	}
}

func TestExchangeCodeSendsAuthorizationGrant(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{"access_token":"a1","refresh_token":"r1","expires_in":3600,"scope":"read:jira-work offline_access"}`)
	}))
	defer srv.Close()

	c := New(&Config{
		HTTPClient:   srv.Client(),
		Logger:       discardLogger(),
		AuthBaseURL:  srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "https://notifier.example.com/jira/oauth",
	})

	tokens, err := c.ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if tokens.AccessToken != "a1" || tokens.RefreshToken != "r1" {
		t.Errorf("ExchangeCode() = %+v", tokens)
	}
	want := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "cid",
		"client_secret": "secret",
		"code":          "the-code",
		"redirect_uri":  "https://notifier.example.com/jira/oauth",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("request %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestRefreshRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"a2"}`)
	}))
	defer srv.Close()

	c := New(&Config{HTTPClient: srv.Client(), Logger: discardLogger(), AuthBaseURL: srv.URL})

	tokens, err := c.Refresh(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tokens.AccessToken != "a2" {
		t.Errorf("access token = %q, want a2", tokens.AccessToken)
	}
	if calls.Load() != 2 {
		t.Errorf("token endpoint calls = %d, want 2", calls.Load())
	}
}

func TestRefreshDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	c := New(&Config{HTTPClient: srv.Client(), Logger: discardLogger(), AuthBaseURL: srv.URL})

	if _, err := c.Refresh(context.Background(), "r1"); !IsAuthFailure(err) {
		t.Fatalf("Refresh() error = %v, want AuthError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint calls = %d, want 1", calls.Load())
	}
}

func TestSignalsTokenInvalid(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"code":401,"message":"Unauthorized"}`, true},
		{`{"code":403,"message":"Forbidden"}`, false},
		{`{"errorMessages":["nope"]}`, false},
		{`{"code":"401"}`, false},
		{`not json`, false},
		{``, false},
	}
	for _, tt := range tests {
		if got := signalsTokenInvalid([]byte(tt.body)); got != tt.want {
			t.Errorf("signalsTokenInvalid(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}
