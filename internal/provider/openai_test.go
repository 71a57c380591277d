package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatFetchUsesRateLimitHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("x-ratelimit-limit-requests", "200")
		w.Header().Set("x-ratelimit-remaining-requests", "150")
		w.Header().Set("x-ratelimit-reset-requests", "2s")
		w.Header().Set("x-ratelimit-limit-tokens", "100000")
		w.Header().Set("x-ratelimit-remaining-tokens", "90000")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	capability := NewOpenAICompat()
	reports, errFetch := capability.Fetch(context.Background(), Config{
		ID:      "openai",
		APIKey:  "sk-test",
		BaseURL: server.URL,
	})
	if errFetch != nil {
		t.Fatalf("fetch: %v", errFetch)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}

	report := reports[0]
	if !report.IsAvailable {
		t.Fatalf("report should be available")
	}
	if report.AmountUsed != 50 || report.AmountAvailable != 200 {
		t.Fatalf("unexpected amounts: used=%v limit=%v", report.AmountUsed, report.AmountAvailable)
	}
	if report.Percentage != 25 {
		t.Fatalf("unexpected percentage: %v", report.Percentage)
	}
	if report.NextResetTime == nil {
		t.Fatalf("reset time not parsed")
	}
	if len(report.Details) != 2 {
		t.Fatalf("expected requests and tokens details, got %d", len(report.Details))
	}
	if report.RawStatus != http.StatusOK || report.RawPayload != `{"data":[]}` {
		t.Fatalf("raw capture wrong: status=%d payload=%q", report.RawStatus, report.RawPayload)
	}
}

func TestOpenAICompatFetchRejectedKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	capability := NewOpenAICompat()
	_, errFetch := capability.Fetch(context.Background(), Config{ID: "openai", APIKey: "bad", BaseURL: server.URL})
	if !IsCredentialError(errFetch) {
		t.Fatalf("expected credential error, got %v", errFetch)
	}
	if StatusCodeOf(errFetch) != http.StatusUnauthorized {
		t.Fatalf("rejection status not carried: %d", StatusCodeOf(errFetch))
	}
}

func TestOpenAICompatFetchRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-limit-requests", "100")
		w.Header().Set("x-ratelimit-remaining-requests", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	capability := NewOpenAICompat()
	reports, errFetch := capability.Fetch(context.Background(), Config{ID: "openai", APIKey: "sk", BaseURL: server.URL})
	if errFetch != nil {
		t.Fatalf("429 must stay a usable probe: %v", errFetch)
	}
	if reports[0].StatusMessage != "rate limited" {
		t.Fatalf("unexpected message: %q", reports[0].StatusMessage)
	}
	if reports[0].AmountUsed != 100 {
		t.Fatalf("unexpected used: %v", reports[0].AmountUsed)
	}
}

func TestOpenAICompatFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	capability := NewOpenAICompat()
	_, errFetch := capability.Fetch(context.Background(), Config{ID: "openai", APIKey: "sk", BaseURL: server.URL})
	if errFetch == nil {
		t.Fatalf("expected error")
	}
	if IsCredentialError(errFetch) {
		t.Fatalf("5xx is a backend error, not a credential error")
	}
	if StatusCodeOf(errFetch) != http.StatusInternalServerError {
		t.Fatalf("status not carried: %d", StatusCodeOf(errFetch))
	}
}

func TestOpenAICompatMissingKey(t *testing.T) {
	capability := NewOpenAICompat()
	_, errFetch := capability.Fetch(context.Background(), Config{ID: "openai"})
	if !IsCredentialError(errFetch) {
		t.Fatalf("expected credential error, got %v", errFetch)
	}
}

func TestDisplayLabel(t *testing.T) {
	if got := displayLabel(Config{ID: "deepseek"}); got != "Deepseek" {
		t.Fatalf("displayLabel: %q", got)
	}
	if got := displayLabel(Config{ID: "deepseek", DisplayName: "DeepSeek"}); got != "DeepSeek" {
		t.Fatalf("displayLabel explicit: %q", got)
	}
}
