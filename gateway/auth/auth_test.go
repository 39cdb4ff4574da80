package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

const (
	testKey    = "ops-key"
	testSecret = "super-secret"
)

func newTestAuthenticator(now time.Time, persistence NoncePersistence) *Authenticator {
	return NewAuthenticator(
		map[string]string{testKey: testSecret},
		time.Minute,
		5*time.Minute,
		128,
		func() time.Time { return now },
		persistence,
	)
}

func TestAuthenticateAcceptsSignedRequest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := newTestAuthenticator(now, nil)

	body := []byte(`{"amount":"100"}`)
	req := httptest.NewRequest("POST", "/v1/escrow/abc/complete?b=2&a=1", bytes.NewReader(body))
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := ComputeSignature(testSecret, ts, "nonce-1", "POST", CanonicalRequestPath(req), body)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	principal, err := auth.Authenticate(req, body)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.APIKey != testKey {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestAuthenticateRejectsTamperedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := newTestAuthenticator(now, nil)

	body := []byte(`{"amount":"100"}`)
	req := httptest.NewRequest("POST", "/v1/escrow/abc/complete", bytes.NewReader(body))
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := ComputeSignature(testSecret, ts, "nonce-1", "POST", CanonicalRequestPath(req), body)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	if _, err := auth.Authenticate(req, []byte(`{"amount":"999"}`)); err == nil {
		t.Fatal("expected signature mismatch for tampered body")
	}
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := newTestAuthenticator(now, nil)

	stale := now.Add(-10 * time.Minute)
	req := httptest.NewRequest("GET", "/v1/escrow/abc", nil)
	ts := strconv.FormatInt(stale.Unix(), 10)
	sig := ComputeSignature(testSecret, ts, "nonce-1", "GET", CanonicalRequestPath(req), nil)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	if _, err := auth.Authenticate(req, nil); err == nil {
		t.Fatal("expected stale timestamp rejection")
	}
}

func TestAuthenticateRejectsNonceReuse(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	auth := newTestAuthenticator(now, nil)

	ts := strconv.FormatInt(now.Unix(), 10)
	send := func() error {
		req := httptest.NewRequest("GET", "/v1/escrow/abc", nil)
		sig := ComputeSignature(testSecret, ts, "nonce-1", "GET", CanonicalRequestPath(req), nil)
		req.Header.Set(HeaderAPIKey, testKey)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderNonce, "nonce-1")
		req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
		_, err := auth.Authenticate(req, nil)
		return err
	}
	if err := send(); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := send(); err == nil {
		t.Fatal("expected nonce reuse rejection")
	}
}

func TestCanonicalQueryOrdersParameters(t *testing.T) {
	if got := CanonicalQuery("b=2&a=1&c=3"); got != "a=1&b=2&c=3" {
		t.Fatalf("unexpected canonical query %q", got)
	}
	if got := CanonicalQuery(""); got != "" {
		t.Fatalf("empty query must stay empty, got %q", got)
	}
}

func TestHydrateNoncesSeedsReplayWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	ts := strconv.FormatInt(now.Unix(), 10)
	persisted := &memoryPersistence{records: []NonceRecord{{
		APIKey:     testKey,
		Timestamp:  ts,
		Nonce:      "nonce-1",
		ObservedAt: now.Add(-time.Minute),
	}}}
	auth := newTestAuthenticator(now, persisted)
	if err := auth.HydrateNonces(context.Background(), now.Add(-5*time.Minute)); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/escrow/abc", nil)
	sig := ComputeSignature(testSecret, ts, "nonce-1", "GET", CanonicalRequestPath(req), nil)
	req.Header.Set(HeaderAPIKey, testKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	if _, err := auth.Authenticate(req, nil); err == nil {
		t.Fatal("expected hydrated nonce to be rejected")
	}
}

type memoryPersistence struct {
	records []NonceRecord
}

func (m *memoryPersistence) EnsureNonce(ctx context.Context, record NonceRecord) (bool, error) {
	for _, rec := range m.records {
		if rec.APIKey == record.APIKey && rec.Timestamp == record.Timestamp && rec.Nonce == record.Nonce {
			return true, nil
		}
	}
	m.records = append(m.records, record)
	return false, nil
}

func (m *memoryPersistence) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	out := make([]NonceRecord, 0, len(m.records))
	for _, rec := range m.records {
		if !rec.ObservedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memoryPersistence) PruneNonces(ctx context.Context, cutoff time.Time) error {
	kept := m.records[:0]
	for _, rec := range m.records {
		if !rec.ObservedAt.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	m.records = kept
	return nil
}
