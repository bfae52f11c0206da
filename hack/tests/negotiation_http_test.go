package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/clients"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/events"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/httpapi"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/middleware"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/payment"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/service"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/store"
)

const (
	jwtSecret = "hack-test-secret"
	walletKey = "hack-wallet-key"
)

var (
	client   = model.Caller{ID: "client_hack001", Role: model.RoleClient}
	provider = model.Caller{ID: "provider_hack001", Role: model.RoleProvider}
	rival    = model.Caller{ID: "provider_hack002", Role: model.RoleProvider}
)

// fakeWallet issues card checkouts and can be switched off.
type fakeWallet struct {
	down     atomic.Bool
	mu       sync.Mutex
	keys     []string
	requests []clients.CheckoutRequest
}

func (f *fakeWallet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/checkout" || r.Header.Get("Authorization") != "Bearer "+walletKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var req clients.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if req.Method == payment.MethodCard {
		_ = json.NewEncoder(w).Encode(clients.CheckoutResponse{
			Status:      clients.CheckoutIssued,
			CheckoutURL: "https://wallet.test/checkout/" + key,
			Reference:   "chk_" + key,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(clients.CheckoutResponse{Status: clients.WalletDebited, Reference: "deb_" + key})
}

// eventSink records delivered event envelopes.
type eventSink struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (s *eventSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var env events.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.events = append(s.events, env)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

type env struct {
	t      *testing.T
	server *httptest.Server
	wallet *fakeWallet
	sink   *eventSink
	tokens map[string]string
}

func setup(t *testing.T) *env {
	t.Helper()
	e := &env{t: t, wallet: &fakeWallet{}, sink: &eventSink{}, tokens: make(map[string]string)}

	walletServer := httptest.NewServer(e.wallet)
	t.Cleanup(walletServer.Close)
	sinkServer := httptest.NewServer(e.sink)
	t.Cleanup(sinkServer.Close)

	publisher := events.NewPublisher("aex-negotiation")
	publisher.RegisterEndpoint(events.AnyEvent, sinkServer.URL)
	deliverCtx, stopDelivery := context.WithCancel(context.Background())
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		_ = publisher.Run(deliverCtx)
	}()
	t.Cleanup(func() {
		stopDelivery()
		<-delivered
	})

	payments := payment.NewAdapter(clients.NewWalletClient(walletServer.URL, walletKey, 2*time.Second), 5*time.Second)
	svc := service.New(store.NewMemoryStore(), payments, publisher)

	e.server = httptest.NewServer(httpapi.NewRouter(svc, middleware.NewAuthenticator(jwtSecret, false), walletKey))
	t.Cleanup(e.server.Close)

	for _, c := range []model.Caller{client, provider, rival} {
		token, err := middleware.IssueToken(jwtSecret, c, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		e.tokens[c.ID] = token
	}
	return e
}

// call sends body as JSON with the caller's token (or the wallet key when
// as is empty) and decodes the response into out when it is non-nil.
func (e *env) call(method, path string, as model.Caller, body any, wantStatus int, out any) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		e.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if as.ID != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[as.ID])
	} else {
		req.Header.Set("Authorization", "Bearer "+walletKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var raw bytes.Buffer
		_, _ = raw.ReadFrom(resp.Body)
		e.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, wantStatus, resp.StatusCode, raw.String())
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func (e *env) negotiatedOffer() (model.Job, model.Offer, model.Offer) {
	e.t.Helper()
	var snap model.Snapshot
	e.call("POST", "/v1/jobs", client, model.PostJobRequest{CategoryID: "plumbing", Description: "Replace boiler valve"}, http.StatusCreated, &snap)
	job := snap.Job

	e.call("POST", "/v1/jobs/"+job.ID+"/offers", provider, map[string]string{"price": "5000", "description": "Friday morning"}, http.StatusCreated, &snap)
	offer := *snap.Offer
	e.call("POST", "/v1/jobs/"+job.ID+"/offers", rival, map[string]string{"price": "5300", "description": "Next week"}, http.StatusCreated, &snap)
	sibling := *snap.Offer

	e.call("POST", "/v1/offers/"+offer.ID+"/negotiate", client, nil, http.StatusOK, nil)
	e.call("POST", "/v1/offers/"+offer.ID+"/counter", provider, map[string]string{"price": "4500", "description": "Parts included"}, http.StatusCreated, nil)
	e.call("POST", "/v1/offers/"+offer.ID+"/counter", client, map[string]string{"price": "4800", "description": "Meet halfway"}, http.StatusCreated, nil)
	return job, offer, sibling
}

func TestCardCheckoutFlow(t *testing.T) {
	e := setup(t)
	job, offer, sibling := e.negotiatedOffer()

	// The client cannot answer their own counter-offer.
	e.call("POST", "/v1/offers/"+offer.ID+"/counter", client, map[string]string{"price": "4700", "description": "again"}, http.StatusForbidden, nil)

	var thread struct {
		Thread       []model.CounterOffer `json:"thread"`
		AwaitingRole model.Role           `json:"awaiting_role"`
	}
	e.call("GET", "/v1/offers/"+offer.ID+"/thread", provider, nil, http.StatusOK, &thread)
	if len(thread.Thread) != 2 || thread.AwaitingRole != model.RoleProvider {
		t.Fatalf("thread = %+v", thread)
	}

	var snap model.Snapshot
	e.call("POST", "/v1/offers/"+offer.ID+"/accept", client, map[string]string{"payment_method": "card"}, http.StatusOK, &snap)
	if snap.Offer.AgreedPrice != "4800" || snap.Job.Status != model.JobStatusOngoing {
		t.Fatalf("accept snapshot = %+v", snap)
	}
	if !snap.Job.PaymentPending || snap.Job.Payment.Status != model.PaymentStatusCheckoutIssued {
		t.Fatalf("payment = %+v", snap.Job.Payment)
	}
	reference := snap.Job.Payment.Reference

	var withdrawn model.Offer
	e.call("GET", "/v1/offers/"+sibling.ID, rival, nil, http.StatusOK, &withdrawn)
	if withdrawn.Status != model.OfferStatusWithdrawn {
		t.Errorf("sibling status = %s", withdrawn.Status)
	}

	// Accepting again is a no-op.
	e.call("POST", "/v1/offers/"+offer.ID+"/accept", client, nil, http.StatusOK, nil)
	if n := len(e.wallet.keys); n != 1 {
		t.Errorf("wallet called %d times, want 1", n)
	}

	e.call("POST", "/internal/payments/settled", model.Caller{}, model.SettlementNotice{JobID: job.ID, Reference: reference, Success: true}, http.StatusOK, &snap)
	if snap.Job.PaymentPending {
		t.Error("payment still pending after settlement")
	}

	e.call("POST", "/v1/jobs/"+job.ID+"/complete", client, nil, http.StatusOK, nil)
	e.call("POST", "/v1/jobs/"+job.ID+"/ratings", provider, map[string]any{"score": 4, "comment": "Clear instructions"}, http.StatusCreated, nil)
	e.call("POST", "/v1/jobs/"+job.ID+"/ratings", provider, map[string]any{"score": 5}, http.StatusForbidden, nil)
	e.call("POST", "/v1/jobs/"+job.ID+"/ratings", rival, map[string]any{"score": 1}, http.StatusForbidden, nil)

	var view struct {
		Job    model.Job `json:"job"`
		Offers []any     `json:"offers"`
	}
	e.call("GET", "/v1/jobs/"+job.ID, client, nil, http.StatusOK, &view)
	if view.Job.Status != model.JobStatusCompleted || len(view.Offers) != 2 || len(view.Job.Ratings) != 1 {
		t.Errorf("job view = %+v", view)
	}

	want := map[string]bool{
		events.EventJobPosted:          true,
		events.EventOfferSubmitted:     true,
		events.EventNegotiationStarted: true,
		events.EventCounterOfferAdded:  true,
		events.EventOfferAccepted:      true,
		events.EventOfferWithdrawn:     true,
		events.EventPaymentInitiated:   true,
		events.EventPaymentSettled:     true,
		events.EventJobCompleted:       true,
		events.EventRatingSubmitted:    true,
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		for _, got := range e.sink.types() {
			delete(want, got)
		}
		if len(want) == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(want) != 0 {
		t.Errorf("events never delivered: %v", want)
	}
}

func TestWalletOutageAndRetry(t *testing.T) {
	e := setup(t)
	job, offer, _ := e.negotiatedOffer()

	e.wallet.down.Store(true)
	var snap model.Snapshot
	e.call("POST", "/v1/offers/"+offer.ID+"/accept", client, nil, http.StatusOK, &snap)
	if snap.PaymentError == "" {
		t.Fatal("expected payment error while the wallet is down")
	}
	if snap.Job.Status != model.JobStatusOngoing || !snap.Job.PaymentPending {
		t.Fatalf("job = %+v", snap.Job)
	}
	if snap.Job.Payment.Status != model.PaymentStatusUnavailable {
		t.Fatalf("payment status = %s", snap.Job.Payment.Status)
	}

	var eligibility map[string]any
	e.call("GET", "/v1/jobs/"+job.ID+"/ratings/eligibility", client, nil, http.StatusOK, &eligibility)
	if eligibility["eligible"] != false {
		t.Errorf("eligibility before completion = %v", eligibility)
	}

	e.call("POST", "/v1/jobs/"+job.ID+"/payment/retry", provider, nil, http.StatusForbidden, nil)

	e.wallet.down.Store(false)
	e.call("POST", "/v1/jobs/"+job.ID+"/payment/retry", client, nil, http.StatusOK, &snap)
	if snap.PaymentError != "" || snap.Job.PaymentPending {
		t.Fatalf("retry snapshot = %+v", snap)
	}
	if snap.Job.Payment.Status != model.PaymentStatusSettled {
		t.Errorf("payment status = %s", snap.Job.Payment.Status)
	}

	e.wallet.mu.Lock()
	defer e.wallet.mu.Unlock()
	if len(e.wallet.requests) != 1 || e.wallet.requests[0].Amount != "4800" {
		t.Errorf("wallet requests = %+v", e.wallet.requests)
	}
}

func TestCloseAndReopen(t *testing.T) {
	e := setup(t)
	var snap model.Snapshot
	e.call("POST", "/v1/jobs", client, model.PostJobRequest{CategoryID: "garden", Description: "Trim hedges"}, http.StatusCreated, &snap)
	job := snap.Job

	e.call("POST", "/v1/jobs/"+job.ID+"/close", provider, nil, http.StatusForbidden, nil)
	e.call("POST", "/v1/jobs/"+job.ID+"/close", client, map[string]int64{"if_version": job.Version}, http.StatusOK, &snap)
	if snap.Job.Status != model.JobStatusClosed {
		t.Fatalf("status = %s", snap.Job.Status)
	}
	e.call("POST", "/v1/jobs/"+job.ID+"/offers", provider, map[string]string{"price": "80", "description": "Saturday"}, http.StatusForbidden, nil)

	e.call("POST", "/v1/jobs/"+job.ID+"/reopen", client, map[string]int64{"if_version": job.Version}, http.StatusConflict, nil)
	e.call("POST", "/v1/jobs/"+job.ID+"/reopen", client, nil, http.StatusOK, &snap)
	if snap.Job.Status != model.JobStatusOpen {
		t.Fatalf("status = %s", snap.Job.Status)
	}
	e.call("POST", "/v1/jobs/"+job.ID+"/offers", provider, map[string]string{"price": "80", "description": "Saturday"}, http.StatusCreated, nil)
}

func TestUnauthenticated(t *testing.T) {
	e := setup(t)
	resp, err := http.Post(e.server.URL+"/v1/jobs", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
