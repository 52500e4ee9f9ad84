package repo

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-triage/internal/cache"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// roundTripFunc stubs the HTTP transport so requests never leave the process.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

const ticketJSON = `{"ticket":{"id":42,"subject":"Pipeline stuck","requester_id":7,
"custom_fields":[{"id":50198956158617,"value":"120000"},{"id":49138927053465,"value":null},{"id":1,"value":"ignored"},{"id":47498314998041,"value":false}]}}`

const commentsJSON = `{"comments":[
{"author_id":9,"body":"Engineering: nil pointer in the slot manager","public":false,"created_at":"2024-03-01T10:05:00Z"},
{"author_id":7,"body":"Our pipeline is stuck","public":true,"created_at":"2024-03-01T10:00:00Z"},
{"author_id":9,"body":"We are looking into it","public":true,"created_at":"2024-03-01T10:02:00Z"}]}`

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func newTestTicketClient(rt roundTripFunc, provider cache.Provider) *TicketClient {
	client := NewTicketClient(TicketClientConfig{
		BaseURL:      "https://support.example.com/",
		Email:        "bot@example.com",
		Token:        "secret",
		FieldMapping: map[string]string{"50198956158617": "Deal Value (in ARR)", "49138927053465": "Urgency", "47498314998041": "Workaround available"},
		RecordTTL:    time.Minute,
	}, provider, utils.DiscardLogger())
	client.httpClient = &http.Client{Transport: rt}
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestFetchRecordBuildsLabelledConversation(t *testing.T) {
	var paths []string
	client := newTestTicketClient(func(req *http.Request) (*http.Response, error) {
		paths = append(paths, req.URL.Path)
		user, pass, ok := req.BasicAuth()
		if !ok || user != "bot@example.com/token" || pass != "secret" {
			t.Fatalf("unexpected basic auth %q/%q", user, pass)
		}
		if strings.HasSuffix(req.URL.Path, "/comments.json") {
			return jsonResponse(http.StatusOK, commentsJSON), nil
		}
		return jsonResponse(http.StatusOK, ticketJSON), nil
	}, nil)

	record, err := client.FetchRecord(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(paths, ",") != "/api/v2/tickets/42.json,/api/v2/tickets/42/comments.json" {
		t.Fatalf("unexpected request paths %v", paths)
	}
	if record.Subject != "Pipeline stuck" || len(record.Utterances) != 3 {
		t.Fatalf("unexpected record %+v", record)
	}
	roles := []models.Role{models.RoleCustomer, models.RoleAgent, models.RoleAgentInternal}
	for i, want := range roles {
		if record.Utterances[i].Role != want {
			t.Fatalf("utterance %d: expected role %s, got %s", i, want, record.Utterances[i].Role)
		}
	}
	if record.Fields["Deal Value (in ARR)"] != "120000" {
		t.Fatalf("expected mapped deal value, got %v", record.Fields)
	}
	if len(record.Fields) != 1 {
		t.Fatalf("expected empty and unmapped fields to be dropped, got %v", record.Fields)
	}
}

func TestFetchRecordUsesCache(t *testing.T) {
	hits := 0
	provider := cache.NewMemoryProvider()
	client := newTestTicketClient(func(req *http.Request) (*http.Response, error) {
		hits++
		if strings.HasSuffix(req.URL.Path, "/comments.json") {
			return jsonResponse(http.StatusOK, commentsJSON), nil
		}
		return jsonResponse(http.StatusOK, ticketJSON), nil
	}, provider)

	ctx := context.Background()
	if _, err := client.FetchRecord(ctx, "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cached, err := client.FetchRecord(ctx, "42")
	if err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(cached.Utterances) != 3 {
		t.Fatalf("unexpected cached payload: %+v", cached)
	}
}

func TestFetchRecordRetriesTimeoutsThreeTimes(t *testing.T) {
	attempts := 0
	var delays []time.Duration
	client := newTestTicketClient(func(req *http.Request) (*http.Response, error) {
		attempts++
		return nil, timeoutError{}
	}, nil)
	client.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := client.FetchRecord(context.Background(), "42")
	if err == nil {
		t.Fatalf("expected error after retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("expected 1s then 2s backoff, got %v", delays)
	}
}

func TestFetchRecordDoesNotRetryHTTPErrors(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		attempts := 0
		client := newTestTicketClient(func(req *http.Request) (*http.Response, error) {
			attempts++
			return jsonResponse(status, `{"error":"nope"}`), nil
		}, nil)

		_, err := client.FetchRecord(context.Background(), "42")
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("expected FetchError, got %v", err)
		}
		if fetchErr.Status != status {
			t.Fatalf("expected status %d, got %d", status, fetchErr.Status)
		}
		if attempts != 1 {
			t.Fatalf("status %d retried %d times", status, attempts)
		}
	}
}

func TestFetchRecordRecoversAfterTransientFailure(t *testing.T) {
	attempts := 0
	client := newTestTicketClient(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return nil, timeoutError{}
		}
		if strings.HasSuffix(req.URL.Path, "/comments.json") {
			return jsonResponse(http.StatusOK, commentsJSON), nil
		}
		return jsonResponse(http.StatusOK, ticketJSON), nil
	}, nil)

	if _, err := client.FetchRecord(context.Background(), "42"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected retry then two successful calls, got %d", attempts)
	}
}

func TestFetchRecordRequiresConfiguration(t *testing.T) {
	client := NewTicketClient(TicketClientConfig{}, nil, nil)
	if _, err := client.FetchRecord(context.Background(), "42"); err == nil {
		t.Fatalf("expected missing base URL error")
	}
	client = NewTicketClient(TicketClientConfig{BaseURL: "https://x"}, nil, nil)
	if _, err := client.FetchRecord(context.Background(), "  "); err == nil {
		t.Fatalf("expected missing ticket id error")
	}
}

func TestFetchRecordRejectsNonNumericIDs(t *testing.T) {
	calls := 0
	client := newTestTicketClient(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, ticketJSON), nil
	}, nil)

	for _, id := range []string{"../users/5", "../x", "42/../../users", "42?include=users", "0", "-3", "T-1"} {
		_, err := client.FetchRecord(context.Background(), id)
		if !errors.Is(err, ErrInvalidTicketID) {
			t.Fatalf("%q: expected ErrInvalidTicketID, got %v", id, err)
		}
	}
	if calls != 0 {
		t.Fatalf("expected no HTTP calls for rejected ids, got %d", calls)
	}
}

func TestFetchRecordDoesNotRetryCertificateFailures(t *testing.T) {
	attempts := 0
	client := newTestTicketClient(func(req *http.Request) (*http.Response, error) {
		attempts++
		return nil, &tls.CertificateVerificationError{Err: errors.New("x509: certificate signed by unknown authority")}
	}, nil)

	if _, err := client.FetchRecord(context.Background(), "42"); err == nil {
		t.Fatalf("expected certificate error")
	}
	if attempts != 1 {
		t.Fatalf("certificate failure retried: %d attempts", attempts)
	}
}
