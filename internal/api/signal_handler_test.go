package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/duelcam/backend/internal/events"
	"github.com/duelcam/backend/internal/repository"
	"github.com/duelcam/backend/internal/store"
)

// fakeMatchDirectory resolves a single fixed match between two users.
type fakeMatchDirectory struct {
	matchID string
	userA   string
	userB   string
}

func (f *fakeMatchDirectory) ResolvePeer(_ context.Context, matchID, userID string) (string, error) {
	if matchID != f.matchID {
		return "", repository.ErrMatchNotFound
	}
	switch userID {
	case f.userA:
		return f.userB, nil
	case f.userB:
		return f.userA, nil
	default:
		return "", repository.ErrNotParticipant
	}
}

type signalFixture struct {
	store  *store.Store
	repo   *fakeEventRepo
	router chi.Router
}

func newSignalFixture(t *testing.T) *signalFixture {
	t.Helper()
	s := newTestStore(t)
	repo := newFakeEventRepo()
	matches := &fakeMatchDirectory{matchID: "match-1", userA: "alice", userB: "bob"}
	h := NewSignalHandler(s, repo, matches, nil)

	r := chi.NewRouter()
	r.Post("/matches/{match}/signal", h.Signal)

	return &signalFixture{store: s, repo: repo, router: r}
}

func (fx *signalFixture) signal(t *testing.T, userID, matchID, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/matches/"+matchID+"/signal", strings.NewReader(body)), userID)
	fx.router.ServeHTTP(w, req)
	return w
}

func TestSignalRelaysOfferToPeer(t *testing.T) {
	fx := newSignalFixture(t)

	body := `{"type":"offer","sdp":"v=0\r\no=- 1 1 IN IP4 0.0.0.0"}`
	w := fx.signal(t, "alice", "match-1", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// The event is addressed to the peer, not the sender.
	pending := fx.store.GetUserEvents("bob")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event for peer, got %d", len(pending))
	}
	e := pending[0]
	if e.Type != events.TypeWebRTC {
		t.Errorf("expected WEBRTC event, got %s", e.Type)
	}
	if !e.IsTechnical {
		t.Error("signaling events must be technical")
	}

	var data events.WebRTCData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		t.Fatalf("failed to decode event data: %v", err)
	}
	if data.MatchID != "match-1" {
		t.Errorf("expected matchId match-1, got %s", data.MatchID)
	}
	if !strings.Contains(string(data.Payload), `"offer"`) {
		t.Errorf("payload should carry the original body, got %s", data.Payload)
	}

	// Signal events are also journaled for durability bookkeeping.
	if inserted := fx.repo.insertedEvents(); len(inserted) != 1 || inserted[0].ID != e.ID {
		t.Errorf("expected the relayed event persisted, got %+v", inserted)
	}
}

func TestSignalAcceptsAnswerAndCandidate(t *testing.T) {
	fx := newSignalFixture(t)

	bodies := []string{
		`{"type":"answer","sdp":"v=0"}`,
		`{"type":"rollback","sdp":"v=0"}`,
		`{"candidate":"candidate:1 1 UDP 2122252543 192.0.2.1 49152 typ host","sdpMid":"0","sdpMLineIndex":0}`,
		`{}`, // end-of-candidates marker
	}

	for _, body := range bodies {
		if w := fx.signal(t, "bob", "match-1", body); w.Code != http.StatusOK {
			t.Errorf("body %s: expected 200, got %d", body, w.Code)
		}
	}

	if pending := fx.store.GetUserEvents("alice"); len(pending) != len(bodies) {
		t.Errorf("expected %d events relayed to alice, got %d", len(bodies), len(pending))
	}
}

func TestSignalRejectsMalformedBodies(t *testing.T) {
	fx := newSignalFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "hello"},
		{"unknown type", `{"type":"shout","sdp":"v=0"}`},
		{"description without sdp", `{"type":"offer"}`},
		{"unknown field", `{"candidate":"candidate:1","bogus":true}`},
		{"array body", `[{"type":"offer","sdp":"v=0"}]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := fx.signal(t, "alice", "match-1", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}

	if pending := fx.store.GetUserEvents("bob"); len(pending) != 0 {
		t.Errorf("rejected bodies must never reach the peer, got %d events", len(pending))
	}
}

func TestSignalUnknownMatch(t *testing.T) {
	fx := newSignalFixture(t)

	w := fx.signal(t, "alice", "no-such-match", `{"type":"offer","sdp":"v=0"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("expected NOT_FOUND envelope, got %+v", resp.Error)
	}
}

func TestSignalOutsiderForbidden(t *testing.T) {
	fx := newSignalFixture(t)

	w := fx.signal(t, "mallory", "match-1", `{"type":"offer","sdp":"v=0"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if pending := fx.store.GetUserEvents("bob"); len(pending) != 0 {
		t.Errorf("outsider signal must not be relayed, got %d events", len(pending))
	}
}
