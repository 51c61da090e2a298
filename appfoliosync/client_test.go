package appfoliosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "test-token", ExpiresIn: 3600})
	})
	mux.HandleFunc("/v1/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClientFor(t *testing.T, srv *httptest.Server) *appfolioClient {
	t.Helper()
	client, err := newAppfolioClient(srv.URL, "client-id", "client-secret", NewRateLimiter(nil, "test", 1000))
	if err != nil {
		t.Fatalf("newAppfolioClient error: %v", err)
	}
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(listPage{Results: []json.RawMessage{json.RawMessage(`{"id":"p1"}`)}, Page: 1, TotalPages: 1})
	})
	client := newTestClientFor(t, srv)

	page, err := client.fetchPage(context.Background(), "properties", 1, fetchRange{})
	if err != nil {
		t.Fatalf("fetchPage error: %v", err)
	}
	if len(page.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(page.Results))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchPagePermanentFailureDoesNotRetry(t *testing.T) {
	var calls int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})
	client := newTestClientFor(t, srv)

	_, err := client.fetchPage(context.Background(), "properties", 1, fetchRange{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestFetchPageGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client := newTestClientFor(t, srv)

	_, err := client.fetchPage(context.Background(), "properties", 1, fetchRange{})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if got := atomic.LoadInt32(&calls); got != maxFetchAttempts {
		t.Fatalf("expected %d attempts, got %d", maxFetchAttempts, got)
	}
}

func TestFetchPageSendsUpdatedSinceAndPaging(t *testing.T) {
	since := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("updated_since"); got != "2026-01-15T00:00:00Z" {
			t.Errorf("updated_since = %q", got)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(listPage{Page: 2, TotalPages: 2})
	})
	client := newTestClientFor(t, srv)

	if _, err := client.fetchPage(context.Background(), "properties", 2, fetchRange{From: &since}); err != nil {
		t.Fatalf("fetchPage error: %v", err)
	}
}

func TestFetchPageSendsUpperBoundForCustomRanges(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("updated_since"); got != "2024-01-01T00:00:00Z" {
			t.Errorf("updated_since = %q", got)
		}
		if got := r.URL.Query().Get("updated_before"); got != "2025-01-01T00:00:00Z" {
			t.Errorf("updated_before = %q", got)
		}
		_ = json.NewEncoder(w).Encode(listPage{Page: 1, TotalPages: 1})
	})
	client := newTestClientFor(t, srv)

	if _, err := client.fetchPage(context.Background(), "properties", 1, fetchRange{From: &from, To: &to}); err != nil {
		t.Fatalf("fetchPage error: %v", err)
	}
}

func TestFetchPageOmitsBoundsWhenUnset(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["updated_since"]; ok {
			t.Error("updated_since must be omitted for an open window")
		}
		if _, ok := r.URL.Query()["updated_before"]; ok {
			t.Error("updated_before must be omitted for an open window")
		}
		_ = json.NewEncoder(w).Encode(listPage{Page: 1, TotalPages: 1})
	})
	client := newTestClientFor(t, srv)

	if _, err := client.fetchPage(context.Background(), "properties", 1, fetchRange{}); err != nil {
		t.Fatalf("fetchPage error: %v", err)
	}
}

func TestFetchPageRecordsRawBodyBeforeParsing(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"id":"p1"}],"page":1,"total_pages":1}`)
	})
	client := newTestClientFor(t, srv)

	var recorded []byte
	client.PageRecorder = func(ctx context.Context, resource string, page int, body []byte) {
		recorded = append([]byte(nil), body...)
	}

	if _, err := client.fetchPage(context.Background(), "properties", 1, fetchRange{}); err != nil {
		t.Fatalf("fetchPage error: %v", err)
	}
	if len(recorded) == 0 {
		t.Fatal("PageRecorder was not invoked")
	}
	var check listPage
	if err := json.Unmarshal(recorded, &check); err != nil {
		t.Fatalf("recorded body is not the raw page: %v", err)
	}
}

func TestFetchPageunknownResource(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client := newTestClientFor(t, srv)

	_, err := client.fetchPage(context.Background(), "leases", 1, fetchRange{})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error for unknown resource, got %v", err)
	}
}

func TestAPIErrorTransientClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{404, false},
		{401, false},
	}
	for _, tc := range cases {
		apiErr := &APIError{StatusCode: tc.status}
		if apiErr.Transient() != tc.transient {
			t.Fatalf("APIError{%d}.Transient() = %v, expected %v", tc.status, apiErr.Transient(), tc.transient)
		}
	}
}

func TestIsTransientContextErrors(t *testing.T) {
	if isTransient(context.Canceled) {
		t.Fatal("context.Canceled must not be transient")
	}
	if isTransient(context.DeadlineExceeded) {
		t.Fatal("context.DeadlineExceeded must not be transient")
	}
	if !IsPermanent(permanent(errors.New("bad record"))) {
		t.Fatal("permanent() wrap not detected by IsPermanent")
	}
}

func TestRetryDelayCapsAtMax(t *testing.T) {
	for attempt := 1; attempt < maxFetchAttempts; attempt++ {
		d := retryDelay(attempt)
		if d < initialRetryDelay {
			t.Fatalf("retryDelay(%d) = %v, below the initial delay", attempt, d)
		}
		if d > maxRetryDelay+maxRetryDelay/4 {
			t.Fatalf("retryDelay(%d) = %v, above cap plus jitter", attempt, d)
		}
	}
}
