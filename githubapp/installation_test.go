/*
Copyright 2025 TinyGen Authors
SPDX-License-Identifier: Apache-2.0
*/

package githubapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeGitHub wires an httptest server with the app endpoints the
// Authenticator talks to.
type fakeGitHub struct {
	mux *http.ServeMux
	srv *httptest.Server

	tokenRequests int
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{mux: http.NewServeMux()}
	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) authenticator(t *testing.T) *Authenticator {
	t.Helper()
	pemKey, _ := testKeyPEM(t)
	a, err := New(Config{ClientID: "Iv1.test-client", PrivateKey: pemKey},
		WithBaseURL(f.srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestResolveInstallationRepoScoped(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("GET /repos/octocat/hello-world/installation", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id": 12345}`)
	})

	a := f.authenticator(t)
	id, err := a.ResolveInstallation(context.Background(), "jwt", "octocat", "hello-world")
	if err != nil {
		t.Fatalf("ResolveInstallation: %v", err)
	}
	if id != 12345 {
		t.Errorf("installation ID = %d, want 12345", id)
	}
}

func TestResolveInstallationAccountScan(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("GET /repos/someorg/repo/installation", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	f.mux.HandleFunc("GET /app/installations", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "account": {"login": "other"}},
			{"id": 2, "account": {"login": "SomeOrg"}}
		]`)
	})

	a := f.authenticator(t)
	// Login match is case-insensitive.
	id, err := a.ResolveInstallation(context.Background(), "jwt", "someorg", "repo")
	if err != nil {
		t.Fatalf("ResolveInstallation: %v", err)
	}
	if id != 2 {
		t.Errorf("installation ID = %d, want 2", id)
	}
}

func TestResolveInstallationFirstFallback(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("GET /repos/stranger/repo/installation", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	f.mux.HandleFunc("GET /app/installations", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id": 99, "account": {"login": "personal-user"}}]`)
	})

	a := f.authenticator(t)
	id, err := a.ResolveInstallation(context.Background(), "jwt", "stranger", "repo")
	if err != nil {
		t.Fatalf("ResolveInstallation: %v", err)
	}
	if id != 99 {
		t.Errorf("installation ID = %d, want 99", id)
	}
}

func TestResolveInstallationEmptyList(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("GET /repos/nobody/repo/installation", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	f.mux.HandleFunc("GET /app/installations", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	a := f.authenticator(t)
	_, err := a.ResolveInstallation(context.Background(), "jwt", "nobody", "repo")
	var notFound *InstallationNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected InstallationNotFound, got %v", err)
	}
}

func TestResolveInstallationNon404(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("GET /repos/bad/repo/installation", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})

	a := f.authenticator(t)
	_, err := a.ResolveInstallation(context.Background(), "jwt", "bad", "repo")
	var notFound *InstallationNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected InstallationNotFound for non-404 failure, got %v", err)
	}
}

func TestInstallationToken(t *testing.T) {
	f := newFakeGitHub(t)
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	f.mux.HandleFunc("POST /app/installations/7/access_tokens", func(w http.ResponseWriter, _ *http.Request) {
		f.tokenRequests++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token": "ghs_testtoken", "expires_at": %q}`, expiry.Format(time.RFC3339))
	})

	a := f.authenticator(t)
	token, exp, err := a.InstallationToken(context.Background(), "jwt", 7)
	if err != nil {
		t.Fatalf("InstallationToken: %v", err)
	}
	if token != "ghs_testtoken" {
		t.Errorf("token = %q, want ghs_testtoken", token)
	}
	if !exp.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", exp, expiry)
	}
}

func TestInstallationTokenNon201(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("POST /app/installations/7/access_tokens", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"installation suspended"}`, http.StatusForbidden)
	})

	a := f.authenticator(t)
	_, _, err := a.InstallationToken(context.Background(), "jwt", 7)
	var exchErr *TokenExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("expected TokenExchangeError, got %v", err)
	}
	if exchErr.InstallationID != 7 {
		t.Errorf("InstallationID = %d, want 7", exchErr.InstallationID)
	}
	if !strings.Contains(exchErr.Body, "installation suspended") {
		t.Errorf("Body = %q, want response text preserved", exchErr.Body)
	}
	if !strings.Contains(exchErr.Body, "403") {
		t.Errorf("Body = %q, want status detail preserved", exchErr.Body)
	}
}

func TestTokenSourceCaches(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("GET /repos/octocat/hello-world/installation", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id": 7}`)
	})
	f.mux.HandleFunc("POST /app/installations/7/access_tokens", func(w http.ResponseWriter, _ *http.Request) {
		f.tokenRequests++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token": "ghs_cached", "expires_at": %q}`,
			time.Now().Add(time.Hour).Format(time.RFC3339))
	})

	a := f.authenticator(t)
	ts := a.TokenSource(context.Background(), "octocat", "hello-world")

	for range 3 {
		tok, err := ts.Token()
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok.AccessToken != "ghs_cached" {
			t.Errorf("AccessToken = %q, want ghs_cached", tok.AccessToken)
		}
	}

	if f.tokenRequests != 1 {
		t.Errorf("token endpoint hit %d times, want 1 (cached)", f.tokenRequests)
	}
}

func TestCheckInstallation(t *testing.T) {
	f := newFakeGitHub(t)
	f.mux.HandleFunc("GET /app/installations", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id": 3, "account": {"login": "octocat"}}]`)
	})

	a := f.authenticator(t)

	info, err := a.CheckInstallation(context.Background(), "OctoCat")
	if err != nil {
		t.Fatalf("CheckInstallation: %v", err)
	}
	if !info.Installed || info.InstallationID != 3 || info.Account != "octocat" {
		t.Errorf("info = %+v, want installed id=3 account=octocat", info)
	}

	info, err = a.CheckInstallation(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("CheckInstallation: %v", err)
	}
	if info.Installed {
		t.Errorf("expected not installed, got %+v", info)
	}
}
