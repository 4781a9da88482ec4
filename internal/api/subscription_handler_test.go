package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/duelcam/backend/internal/events"
	"github.com/duelcam/backend/internal/repository"
	"github.com/duelcam/backend/internal/store"
)

// fakeSubRepo is an in-memory SubscriptionRepositoryInterface.
type fakeSubRepo struct {
	mu   sync.Mutex
	subs map[string]repository.PushSubscription
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[string]repository.PushSubscription)}
}

func (f *fakeSubRepo) Insert(_ context.Context, sub repository.PushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = sub
	return nil
}

func (f *fakeSubRepo) ActiveForUser(_ context.Context, userID string) ([]repository.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []repository.PushSubscription
	for _, sub := range f.subs {
		if sub.UserID == userID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (f *fakeSubRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[id]; !ok {
		return repository.ErrSubscriptionNotFound
	}
	delete(f.subs, id)
	return nil
}

func (f *fakeSubRepo) DeleteOwned(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok || sub.UserID != userID {
		return repository.ErrSubscriptionNotFound
	}
	delete(f.subs, id)
	return nil
}

func (f *fakeSubRepo) DeleteByEndpoint(_ context.Context, userID, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs {
		if sub.UserID == userID && sub.Endpoint == endpoint {
			delete(f.subs, id)
			return nil
		}
	}
	return repository.ErrSubscriptionNotFound
}

func (f *fakeSubRepo) get(id string) (repository.PushSubscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	return sub, ok
}

type subsFixture struct {
	store     *store.Store
	eventRepo *fakeEventRepo
	subRepo   *fakeSubRepo
	router    chi.Router
}

func newSubsFixture(t *testing.T) *subsFixture {
	t.Helper()
	s := newTestStore(t)
	eventRepo := newFakeEventRepo()
	subRepo := newFakeSubRepo()
	h := NewSubscriptionHandler(s, eventRepo, subRepo, nil)

	r := chi.NewRouter()
	r.Post("/push/subscriptions", h.Subscribe)
	r.Delete("/push/subscriptions", h.UnsubscribeByEndpoint)
	r.Delete("/push/subscriptions/{id}", h.Unsubscribe)

	return &subsFixture{
		store:     s,
		eventRepo: eventRepo,
		subRepo:   subRepo,
		router:    r,
	}
}

func validSubscribeBody() string {
	return `{
		"endpoint": "https://push.example.com/send/abc123",
		"expirationTime": null,
		"keys": {"p256dh": "BNcRd...key", "auth": "tBHI...secret"}
	}`
}

func TestSubscribeRegistersTarget(t *testing.T) {
	fx := newSubsFixture(t)

	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/push/subscriptions", strings.NewReader(validSubscribeBody())), "user-1")
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			SubscriptionID string `json:"subscriptionId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.SubscriptionID == "" {
		t.Fatal("expected a subscription id")
	}

	sub, ok := fx.subRepo.get(resp.Data.SubscriptionID)
	if !ok {
		t.Fatal("subscription not stored")
	}
	if sub.UserID != "user-1" || sub.Endpoint != "https://push.example.com/send/abc123" {
		t.Errorf("unexpected stored subscription: %+v", sub)
	}
	if sub.ExpirationTime != nil {
		t.Errorf("expected nil expiration, got %v", sub.ExpirationTime)
	}

	// Registration is announced as a technical SUBSCRIPTION event so other
	// devices of the user learn about it.
	pending := fx.store.GetUserEvents("user-1")
	if len(pending) != 1 || pending[0].Type != events.TypeSubscription {
		t.Fatalf("expected one SUBSCRIPTION event, got %+v", pending)
	}
	if !pending[0].IsTechnical {
		t.Error("subscription event should be technical")
	}
}

func TestSubscribeParsesExpirationTime(t *testing.T) {
	fx := newSubsFixture(t)

	expiry := time.Now().Add(24 * time.Hour).UnixMilli()
	body := `{
		"endpoint": "https://push.example.com/send/abc123",
		"expirationTime": ` + strings.TrimSpace(jsonInt(expiry)) + `,
		"keys": {"p256dh": "k", "auth": "a"}
	}`

	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/push/subscriptions", strings.NewReader(body)), "user-1")
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			SubscriptionID string `json:"subscriptionId"`
		} `json:"data"`
	}
	json.NewDecoder(w.Body).Decode(&resp)

	sub, _ := fx.subRepo.get(resp.Data.SubscriptionID)
	if sub.ExpirationTime == nil {
		t.Fatal("expected expiration time to be stored")
	}
	if got := sub.ExpirationTime.UnixMilli(); got != expiry {
		t.Errorf("expected expiration %d, got %d", expiry, got)
	}
}

func TestSubscribeValidation(t *testing.T) {
	fx := newSubsFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "subscribe me"},
		{"missing endpoint", `{"keys":{"p256dh":"k","auth":"a"}}`},
		{"endpoint not a url", `{"endpoint":"not-a-url","keys":{"p256dh":"k","auth":"a"}}`},
		{"missing keys", `{"endpoint":"https://push.example.com/x"}`},
		{"missing auth", `{"endpoint":"https://push.example.com/x","keys":{"p256dh":"k"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := asUser(httptest.NewRequest(http.MethodPost, "/push/subscriptions", strings.NewReader(tc.body)), "user-1")
			fx.router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	fx := newSubsFixture(t)

	fx.subRepo.Insert(context.Background(), repository.PushSubscription{
		ID:       "sub-1",
		UserID:   "user-1",
		Endpoint: "https://push.example.com/x",
	})

	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodDelete, "/push/subscriptions/sub-1", nil), "user-1")
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := fx.subRepo.get("sub-1"); ok {
		t.Error("subscription should be deleted")
	}
}

func TestUnsubscribeOtherUsersSubscription(t *testing.T) {
	fx := newSubsFixture(t)

	fx.subRepo.Insert(context.Background(), repository.PushSubscription{
		ID:       "victim-sub",
		UserID:   "victim",
		Endpoint: "https://push.example.com/victim",
	})

	// Knowing someone else's subscription id must not be enough to delete
	// it; the caller sees the same 404 as for a missing id.
	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodDelete, "/push/subscriptions/victim-sub", nil), "attacker")
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if _, ok := fx.subRepo.get("victim-sub"); !ok {
		t.Error("victim's subscription must survive a foreign delete")
	}

	// The owner can still delete it.
	w = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodDelete, "/push/subscriptions/victim-sub", nil), "victim")
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner delete, got %d", w.Code)
	}
	if _, ok := fx.subRepo.get("victim-sub"); ok {
		t.Error("owner delete should remove the subscription")
	}
}

func TestUnsubscribeByEndpoint(t *testing.T) {
	fx := newSubsFixture(t)

	fx.subRepo.Insert(context.Background(), repository.PushSubscription{
		ID:       "sub-1",
		UserID:   "user-1",
		Endpoint: "https://push.example.com/send/abc123",
	})
	fx.subRepo.Insert(context.Background(), repository.PushSubscription{
		ID:       "sub-2",
		UserID:   "user-2",
		Endpoint: "https://push.example.com/send/abc123",
	})

	body := `{"endpoint": "https://push.example.com/send/abc123"}`
	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodDelete, "/push/subscriptions", strings.NewReader(body)), "user-1")
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := fx.subRepo.get("sub-1"); ok {
		t.Error("caller's subscription should be deleted")
	}
	// Same endpoint registered by another user stays.
	if _, ok := fx.subRepo.get("sub-2"); !ok {
		t.Error("other user's subscription must survive")
	}
}

func TestUnsubscribeByEndpointValidation(t *testing.T) {
	fx := newSubsFixture(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"not json", "bye", http.StatusBadRequest},
		{"missing endpoint", `{}`, http.StatusBadRequest},
		{"endpoint not a url", `{"endpoint":"nope"}`, http.StatusBadRequest},
		{"unknown endpoint", `{"endpoint":"https://push.example.com/gone"}`, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := asUser(httptest.NewRequest(http.MethodDelete, "/push/subscriptions", strings.NewReader(tc.body)), "user-1")
			fx.router.ServeHTTP(w, req)

			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestUnsubscribeUnknownID(t *testing.T) {
	fx := newSubsFixture(t)

	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodDelete, "/push/subscriptions/no-such-sub", nil), "user-1")
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("expected NOT_FOUND envelope, got %+v", resp.Error)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
