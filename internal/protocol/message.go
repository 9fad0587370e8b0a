// Package protocol defines the wire message envelope shared by the
// server and its clients, and the codec that frames it over a byte
// stream. One envelope is exchanged per logical operation.
package protocol

import "encoding/json"

// Kind tags an envelope with the operation it carries.
type Kind string

// Client-to-server kinds.
const (
	KindLogin              Kind = "login"
	KindRegister           Kind = "register"
	KindBroadcast          Kind = "broadcast"
	KindAuthenticateDM     Kind = "authenticate_dm"
	KindDirectMessage      Kind = "direct_message"
	KindAddFriend          Kind = "add_friend"
	KindViewFriendRequests Kind = "view_friend_requests"
	KindViewFriends        Kind = "view_friends"
	KindViewGameRequests   Kind = "view_game_requests"
	KindGameInvite         Kind = "game_invite"
	KindGameAccept         Kind = "game_accept"
	KindGameDeny           Kind = "game_deny"
	KindGameMove           Kind = "game_move"
	KindSetStatusAway      Kind = "set_status_away"
	KindHelp               Kind = "help"
	KindQuit               Kind = "quit"
)

// Server-to-client kinds.
const (
	KindRegistered         Kind = "registered"
	KindLoggedIn           Kind = "logged_in"
	KindSuccess            Kind = "success"
	KindError              Kind = "error"
	KindDMHistory          Kind = "dm_history"
	KindOnlineNotification Kind = "online_notification"
	KindFriendRequests     Kind = "friend_requests"
	KindFriendList         Kind = "friend_list"
	KindStatus             Kind = "status"
	KindGameRequests       Kind = "game_requests"
	KindGameBoard          Kind = "game_board"
	KindGameOver           Kind = "game_over"
	KindGameAbandoned      Kind = "game_abandoned"
)

// clientKinds enumerates every kind a client may legitimately send.
var clientKinds = map[Kind]bool{
	KindLogin:              true,
	KindRegister:           true,
	KindBroadcast:          true,
	KindAuthenticateDM:     true,
	KindDirectMessage:      true,
	KindAddFriend:          true,
	KindViewFriendRequests: true,
	KindViewFriends:        true,
	KindViewGameRequests:   true,
	KindGameInvite:         true,
	KindGameAccept:         true,
	KindGameDeny:           true,
	KindGameMove:           true,
	KindSetStatusAway:      true,
	KindHelp:               true,
	KindQuit:               true,
}

// KnownClientKind reports whether k is a recognised client request kind.
func KnownClientKind(k Kind) bool {
	return clientKinds[k]
}

// Envelope is one discrete protocol message. Sender and Recipient are
// identities (usernames) and may be empty when the kind does not need
// them. Aux carries kind-specific structured data.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Sender    string          `json:"sender,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Payload   string          `json:"payload,omitempty"`
	Aux       json.RawMessage `json:"aux,omitempty"`
}

// NewEnvelope builds an envelope without auxiliary data.
func NewEnvelope(kind Kind, sender, recipient, payload string) Envelope {
	return Envelope{Kind: kind, Sender: sender, Recipient: recipient, Payload: payload}
}

// WithAux returns a copy of e with aux marshalled into the Aux field.
//
// Postcondition: Returns the envelope and a nil error, or the zero
// envelope if aux cannot be marshalled.
func (e Envelope) WithAux(aux any) (Envelope, error) {
	raw, err := json.Marshal(aux)
	if err != nil {
		return Envelope{}, err
	}
	e.Aux = raw
	return e, nil
}

// DecodeAux unmarshals the Aux field into v.
func (e Envelope) DecodeAux(v any) error {
	return json.Unmarshal(e.Aux, v)
}

// ErrorEnvelope builds an error response with the given message.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Kind: KindError, Payload: msg}
}

// SuccessEnvelope builds a success response with the given message.
func SuccessEnvelope(msg string) Envelope {
	return Envelope{Kind: KindSuccess, Payload: msg}
}
