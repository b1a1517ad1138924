package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func signedRequest(t *testing.T, secret, method, path, subject, roles string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := ComputeInternalAuthSignature(secret, ts, method, path, "", subject, "", roles)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(method, path, nil)
	r.Header.Set(HeaderSubject, subject)
	r.Header.Set(HeaderRoles, roles)
	r.Header.Set(HeaderInternalAuthTimestamp, ts)
	r.Header.Set(HeaderInternalAuthSignature, sig)
	return r
}

func TestMiddlewareHeadersMode(t *testing.T) {
	mw := Middleware{
		Authenticator: &HeadersAuthenticator{Secret: "s3cret", MaxSkew: time.Minute},
	}
	var gotSubject string
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("identity missing from context")
		}
		gotSubject = identity.Subject
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "s3cret", http.MethodGet, "/api/runs/", "astro", "viewer"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if gotSubject != "astro" {
		t.Fatalf("subject = %q", gotSubject)
	}
}

func TestMiddlewareRejectsUnsigned(t *testing.T) {
	mw := Middleware{Authenticator: &HeadersAuthenticator{Secret: "s3cret"}}
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached without auth")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddlewareEnforcesEditorForMutations(t *testing.T) {
	mw := Middleware{
		Authenticator: &HeadersAuthenticator{Secret: "s3cret", MaxSkew: time.Minute},
	}
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, "s3cret", http.MethodPost, "/api/reduce/", "astro", "viewer"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddlewareSkipPrefixes(t *testing.T) {
	mw := Middleware{
		Authenticator: &HeadersAuthenticator{Secret: "s3cret"},
		SkipPrefixes:  []string{"/healthz"},
	}
	reached := false
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		fmt.Fprint(w, "ok")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !reached || rec.Code != http.StatusOK {
		t.Fatalf("reached=%v status=%d", reached, rec.Code)
	}
}
