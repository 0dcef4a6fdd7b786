package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"lanrelay/internal/lobby"
	"lanrelay/internal/peerconn"
	"lanrelay/internal/signalling"
)

func newTestServer(t *testing.T, rps rate.Limit, burst int) (*Server, *lobby.Lobby) {
	t.Helper()
	lob := lobby.New(nil)
	t.Cleanup(lob.Close)

	shutdown := make(chan struct{})
	t.Cleanup(func() { close(shutdown) })

	admission := signalling.New(nil, shutdown, nil, func(conn *peerconn.PeerConnection, callerTag string) {
		conn.Close()
	})

	s := New(Config{
		Admission:     admission,
		Lobby:         lob,
		RatePerSecond: rps,
		RateBurst:     burst,
	})
	return s, lob
}

func TestHealthReportsMemberCount(t *testing.T) {
	s, _ := newTestServer(t, 0, 0)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Members != 0 {
		t.Errorf("unexpected health payload: %+v", health)
	}
}

func TestMetricsReportsCounters(t *testing.T) {
	s, _ := newTestServer(t, 0, 0)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var m metricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestConnectRejectsUnparsableBody(t *testing.T) {
	s, _ := newTestServer(t, 0, 0)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/connect", "application/json", bytes.NewBufferString("not json"))
	if err != nil {
		t.Fatalf("POST /connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unparsable body, got %d", resp.StatusCode)
	}
	var m malformedResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Malformed == "" {
		t.Error("expected a non-empty Malformed reason")
	}
}

func TestConnectRejectsEmptyOffer(t *testing.T) {
	s, _ := newTestServer(t, 0, 0)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	body, _ := json.Marshal(connectRequest{SDP: "", Tag: "test"})
	resp, err := http.Post(ts.URL+"/connect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty offer, got %d", resp.StatusCode)
	}
}

func TestConnectRateLimited(t *testing.T) {
	s, _ := newTestServer(t, 1, 1)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	body, _ := json.Marshal(connectRequest{SDP: "", Tag: "test"})

	// First request consumes the single burst token (and fails for a
	// different reason, an empty SDP); the second should be rate limited
	// before the empty-offer check ever runs.
	http.Post(ts.URL+"/connect", "application/json", bytes.NewReader(body))
	resp, err := http.Post(ts.URL+"/connect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second rapid request, got %d", resp.StatusCode)
	}
}
