package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"custodia/core/state"
	"custodia/native/crowdfund"
	"custodia/native/escrow"
	"custodia/native/p2p"
	"custodia/storage"
)

const (
	clientHex   = "1111111111111111111111111111111111111111"
	providerHex = "2222222222222222222222222222222222222222"
	arbiterHex  = "3333333333333333333333333333333333333333"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	manager, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("state manager: %v", err)
	}
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	poolEngine := crowdfund.NewEngine()
	poolEngine.SetState(manager)
	transferEngine := p2p.NewEngine()
	transferEngine.SetState(manager)

	server := NewServer(ServerConfig{
		Escrow:    escrowEngine,
		Pools:     poolEngine,
		Transfers: transferEngine,
		Store:     store,
	})
	return server, server.Router()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		body = encoded
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func testID(n byte) string {
	return strings.Repeat("00", 31) + fmt.Sprintf("%02x", n)
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)
	id := testID(1)

	rec := doJSON(t, handler, http.MethodPost, "/v1/escrow", escrowCreateRequest{
		ID:       id,
		Client:   clientHex,
		Provider: providerHex,
		Amount:   "1000",
		Mode:     "milestone",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/milestones", milestoneAddRequest{
		Caller:      clientHex,
		MilestoneID: 1,
		Description: "design",
		Amount:      "400",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add milestone: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/milestones/1/complete", callerRequest{Caller: clientHex}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: got %d body %s", rec.Code, rec.Body.String())
	}
	var released map[string]string
	decodeBody(t, rec, &released)
	if released["amount"] != "400" {
		t.Fatalf("complete released %q, want 400", released["amount"])
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/withdraw", callerRequest{Caller: providerHex}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw: got %d body %s", rec.Code, rec.Body.String())
	}
	var withdrawn map[string]string
	decodeBody(t, rec, &withdrawn)
	if withdrawn["amount"] != "400" {
		t.Fatalf("withdraw amount %q, want 400", withdrawn["amount"])
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/escrow/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got %d body %s", rec.Code, rec.Body.String())
	}
	var view contractView
	decodeBody(t, rec, &view)
	if view.Status != "active" {
		t.Fatalf("status %q, want active", view.Status)
	}
	if view.Released != "0" {
		t.Fatalf("released balance %q, want 0 after withdrawal", view.Released)
	}
	if len(view.Milestones) != 1 || !view.Milestones[0].Completed {
		t.Fatalf("milestone view %+v, want one completed entry", view.Milestones)
	}
}

func TestEscrowRejectionsOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)
	id := testID(2)

	rec := doJSON(t, handler, http.MethodGet, "/v1/escrow/"+id, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing contract: got %d, want 404", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow", escrowCreateRequest{
		ID:       id,
		Client:   clientHex,
		Provider: providerHex,
		Amount:   "0",
		Mode:     "milestone",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero amount: got %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow", escrowCreateRequest{
		ID:       id,
		Client:   clientHex,
		Provider: providerHex,
		Amount:   "1000",
		Mode:     "milestone",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rec.Code, rec.Body.String())
	}

	// Only the client may add milestones.
	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/milestones", milestoneAddRequest{
		Caller: providerHex, MilestoneID: 1, Amount: "100",
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("provider add milestone: got %d, want 403", rec.Code)
	}

	// Time operations are unavailable in milestone mode.
	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/schedule", slotAddRequest{
		Caller: clientHex, ReleaseTime: time.Now().Unix() + 3600, Amount: "100",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("slot in milestone mode: got %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow", escrowCreateRequest{
		ID:       id,
		Client:   clientHex,
		Provider: providerHex,
		Amount:   "1000",
		Mode:     "milestone",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create: got %d, want 409", rec.Code)
	}
}

func TestDisputeFlowOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)
	id := testID(3)

	rec := doJSON(t, handler, http.MethodPost, "/v1/escrow", escrowCreateRequest{
		ID:       id,
		Client:   clientHex,
		Provider: providerHex,
		Arbiter:  arbiterHex,
		Amount:   "500",
		Mode:     "milestone",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/dispute", callerRequest{Caller: providerHex}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dispute: got %d body %s", rec.Code, rec.Body.String())
	}

	// Milestone work is frozen while the dispute is open.
	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/milestones", milestoneAddRequest{
		Caller: clientHex, MilestoneID: 1, Amount: "100",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("add during dispute: got %d, want 409", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/escrow/"+id+"/resolve", resolveRequest{
		Caller: arbiterHex, Resolution: "refund",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: got %d body %s", rec.Code, rec.Body.String())
	}
	var status map[string]string
	decodeBody(t, rec, &status)
	if status["status"] != "cancelled" {
		t.Fatalf("resolved status %q, want cancelled", status["status"])
	}
}

func TestPoolLifecycleOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)
	id := testID(4)
	deadline := time.Now().Unix() + 3600

	rec := doJSON(t, handler, http.MethodPost, "/v1/pools", poolCreateRequest{
		ID:       id,
		Owner:    clientHex,
		Goal:     "1000",
		Deadline: deadline,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create pool: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/pools/"+id+"/contributions", contributeRequest{
		Contributor: providerHex,
		Amount:      "250",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("contribute: got %d body %s", rec.Code, rec.Body.String())
	}
	var contribution map[string]string
	decodeBody(t, rec, &contribution)
	if contribution["contribution"] != "250" {
		t.Fatalf("contribution %q, want 250", contribution["contribution"])
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/pools/"+id+"/finalize", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("early finalize: got %d, want 409", rec.Code)
	}

	// Refunds require a failed pool.
	rec = doJSON(t, handler, http.MethodPost, "/v1/pools/"+id+"/refunds", refundRequest{Contributor: providerHex}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("refund while funding: got %d, want 409", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/pools/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get pool: got %d body %s", rec.Code, rec.Body.String())
	}
	var view poolView
	decodeBody(t, rec, &view)
	if view.Raised != "250" || view.Status != "funding" {
		t.Fatalf("pool view %+v, want raised 250 and funding status", view)
	}
}

func TestTransferFlowsOverHTTP(t *testing.T) {
	_, handler := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/v1/transfers", transferDirectRequest{
		Sender:   clientHex,
		Receiver: providerHex,
		Amount:   "100",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("direct transfer: got %d body %s", rec.Code, rec.Body.String())
	}

	id := testID(5)
	rec = doJSON(t, handler, http.MethodPost, "/v1/transfers/escrow", transferEscrowRequest{
		ID:       id,
		Sender:   clientHex,
		Receiver: providerHex,
		Amount:   "300",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open escrow transfer: got %d body %s", rec.Code, rec.Body.String())
	}

	// Only the receiver can confirm.
	rec = doJSON(t, handler, http.MethodPost, "/v1/transfers/"+id+"/confirm", callerRequest{Caller: clientHex}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sender confirm: got %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/transfers/"+id+"/confirm", callerRequest{Caller: providerHex}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: got %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/transfers/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get transfer: got %d body %s", rec.Code, rec.Body.String())
	}
	var view transferView
	decodeBody(t, rec, &view)
	if view.Status != "completed" || view.Amount != "300" {
		t.Fatalf("transfer view %+v, want completed with amount 300", view)
	}

	rec = doJSON(t, handler, http.MethodPost, "/v1/transfers/"+id+"/cancel", callerRequest{Caller: clientHex}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel completed: got %d, want 409", rec.Code)
	}
}

func TestIdempotencyReplay(t *testing.T) {
	_, handler := newTestServer(t)
	id := testID(6)
	headers := map[string]string{"Idempotency-Key": "create-6"}
	payload := escrowCreateRequest{
		ID:       id,
		Client:   clientHex,
		Provider: providerHex,
		Amount:   "1000",
		Mode:     "milestone",
	}

	first := doJSON(t, handler, http.MethodPost, "/v1/escrow", payload, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: got %d body %s", first.Code, first.Body.String())
	}

	second := doJSON(t, handler, http.MethodPost, "/v1/escrow", payload, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: got %d body %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay missing marker header")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body mismatch: %s vs %s", first.Body.String(), second.Body.String())
	}

	// Same key with a different payload is rejected.
	payload.Amount = "2000"
	third := doJSON(t, handler, http.MethodPost, "/v1/escrow", payload, headers)
	if third.Code != http.StatusConflict {
		t.Fatalf("key reuse: got %d, want 409", third.Code)
	}
}

func TestHealthz(t *testing.T) {
	_, handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}
}
