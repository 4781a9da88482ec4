package events

import "encoding/json"

// Payload shapes form a discriminated union keyed by the event type. They
// mirror what the clients render or act on.

// FriendRequestData is carried by FRIEND_REQUEST events.
type FriendRequestData struct {
	FromUsername string `json:"fromUsername"`
	FromID       string `json:"fromId"`
}

// FriendRequestAcceptedData is carried by FRIEND_REQUEST_ACCEPTED events.
type FriendRequestAcceptedData = FriendRequestData

// ReadyData is carried by READY events when a matchup partner is ready.
type ReadyData struct {
	FromUsername string `json:"fromUsername"`
	FromID       string `json:"fromId"`
	MatchID      string `json:"matchId"`
}

// StartData is carried by START events.
type StartData struct {
	MatchID string `json:"matchId"`
}

// CaptureData is carried by CAPTURE events.
type CaptureData = StartData

// UploadData is carried by UPLOAD events.
type UploadData = StartData

// DeleteMatchupData is carried by DELETE_MATCHUP events.
type DeleteMatchupData struct {
	MatchID      string `json:"matchId"`
	FromUsername string `json:"fromUsername"`
}

// SubscriptionData is carried by SUBSCRIPTION events when a push target is
// registered for the user.
type SubscriptionData struct {
	SubscriptionID string `json:"subscriptionId"`
	Endpoint       string `json:"endpoint"`
}

// WebRTCData is carried by WEBRTC events. Payload is the validated signaling
// body (an SDP session description or an ICE candidate), forwarded verbatim
// to the peer.
type WebRTCData struct {
	MatchID string          `json:"matchId"`
	Payload json.RawMessage `json:"payload"`
}
