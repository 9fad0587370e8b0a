// Package handlers implements the per-connection session state machine:
// authentication, dispatch by message kind, and cleanup on disconnect.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/chat/session"
	"github.com/parlorchat/parlor/internal/game"
	"github.com/parlorchat/parlor/internal/protocol"
	"github.com/parlorchat/parlor/internal/storage/postgres"
	"github.com/parlorchat/parlor/internal/transport"
)

// CredentialStore defines the account operations required by the handler.
type CredentialStore interface {
	Register(ctx context.Context, username, password string) error
	Verify(ctx context.Context, username, password string) error
}

// PresenceStore persists a user's presence status.
type PresenceStore interface {
	SetStatus(ctx context.Context, username, status string) error
}

// RelationshipStore defines the friendship operations required by the handler.
type RelationshipStore interface {
	// RequestFriend records a friend request. When the recipient already
	// has a pending request toward the requester, the edge is promoted
	// to an accepted friendship and accepted is true.
	RequestFriend(ctx context.Context, requester, recipient string) (accepted bool, err error)
	ListFriends(ctx context.Context, username string) ([]string, error)
	ListPendingRequests(ctx context.Context, username string) ([]string, error)
}

// MessageLog persists direct messages and serves conversation history.
type MessageLog interface {
	Append(ctx context.Context, sender, recipient, text string) error
	RecentBetween(ctx context.Context, a, b string, limit int) ([]postgres.Message, error)
}

// GameRecords lists persisted game invitations for a user.
type GameRecords interface {
	ListPendingInvites(ctx context.Context, recipient string) ([]string, error)
}

// dmHistoryLimit bounds the conversation history returned by
// authenticate_dm.
const dmHistoryLimit = 50

// Handler implements transport.SessionHandler. One Handler serves all
// connections; per-connection state lives in the client value owned by
// each HandleSession call.
type Handler struct {
	accounts CredentialStore
	presence PresenceStore
	friends  RelationshipStore
	messages MessageLog
	records  GameRecords
	games    *game.Manager
	registry *session.Registry
	logger   *zap.Logger

	routes map[protocol.Kind]routeFunc
}

// client is the per-connection state. identity is empty until the
// connection authenticates.
type client struct {
	conn     transport.Conn
	identity string
}

func (c *client) authenticated() bool { return c.identity != "" }

type routeFunc func(ctx context.Context, c *client, env protocol.Envelope) error

// NewHandler creates a Handler over the given collaborators.
//
// Precondition: All collaborators must be non-nil.
// Postcondition: Returns a Handler with its dispatch table built; kind
// resolution at runtime is a single map lookup per frame.
func NewHandler(
	accounts CredentialStore,
	presence PresenceStore,
	friends RelationshipStore,
	messages MessageLog,
	records GameRecords,
	games *game.Manager,
	registry *session.Registry,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		accounts: accounts,
		presence: presence,
		friends:  friends,
		messages: messages,
		records:  records,
		games:    games,
		registry: registry,
		logger:   logger,
	}
	h.routes = map[protocol.Kind]routeFunc{
		protocol.KindBroadcast:          h.handleBroadcast,
		protocol.KindAuthenticateDM:     h.handleAuthenticateDM,
		protocol.KindDirectMessage:      h.handleDirectMessage,
		protocol.KindAddFriend:          h.handleAddFriend,
		protocol.KindViewFriendRequests: h.handleViewFriendRequests,
		protocol.KindViewFriends:        h.handleViewFriends,
		protocol.KindViewGameRequests:   h.handleViewGameRequests,
		protocol.KindGameInvite:         h.handleGameInvite,
		protocol.KindGameAccept:         h.handleGameAccept,
		protocol.KindGameDeny:           h.handleGameDeny,
		protocol.KindGameMove:           h.handleGameMove,
		protocol.KindSetStatusAway:      h.handleSetStatusAway,
		protocol.KindHelp:               h.handleHelp,
	}
	return h
}

// HandleSession runs the read-decode-dispatch loop for one connection.
// It returns nil on clean quit and an error when the session ends on a
// transport failure. Either way, a registered identity is removed from
// the registry and any active game is torn down before returning.
//
// Postcondition: The connection's registry entry and game session, if
// any, are gone when this method returns.
func (h *Handler) HandleSession(ctx context.Context, conn transport.Conn) error {
	start := time.Now()
	addr := conn.RemoteAddr().String()
	c := &client{conn: conn}

	// Transport-level failures anywhere below unwind to here. Cleanup
	// must run even mid-game, and must tolerate having already run via
	// an explicit quit.
	defer func() {
		h.cleanup(c)
		h.logger.Info("session closed",
			zap.String("remote_addr", addr),
			zap.String("identity", c.identity),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := conn.Receive()
		if err != nil {
			if protocol.IsProtocolError(err) {
				if werr := conn.Send(protocol.ErrorEnvelope("malformed message")); werr != nil {
					return fmt.Errorf("writing protocol error reply: %w", werr)
				}
				continue
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		if !protocol.KnownClientKind(env.Kind) {
			if err := conn.Send(protocol.ErrorEnvelope(fmt.Sprintf("unknown message kind %q", env.Kind))); err != nil {
				return fmt.Errorf("writing error reply: %w", err)
			}
			continue
		}

		done, err := h.dispatch(ctx, c, env)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// dispatch routes one envelope. The returned bool is true when the
// session should end cleanly (quit).
func (h *Handler) dispatch(ctx context.Context, c *client, env protocol.Envelope) (bool, error) {
	switch env.Kind {
	case protocol.KindQuit:
		return true, h.handleQuit(ctx, c)
	case protocol.KindLogin:
		if c.authenticated() {
			return false, c.conn.Send(protocol.ErrorEnvelope("already logged in"))
		}
		return false, h.handleLogin(ctx, c, env)
	case protocol.KindRegister:
		if c.authenticated() {
			return false, c.conn.Send(protocol.ErrorEnvelope("already logged in"))
		}
		return false, h.handleRegister(ctx, c, env)
	}

	if !c.authenticated() {
		return false, c.conn.Send(protocol.ErrorEnvelope("log in first"))
	}

	route, ok := h.routes[env.Kind]
	if !ok {
		return false, c.conn.Send(protocol.ErrorEnvelope(fmt.Sprintf("unhandled message kind %q", env.Kind)))
	}
	return false, route(ctx, c, env)
}

// handleLogin authenticates the connection. Credential failures keep
// the connection open and unauthenticated.
func (h *Handler) handleLogin(ctx context.Context, c *client, env protocol.Envelope) error {
	username := env.Sender
	password := env.Payload
	if username == "" || password == "" {
		return c.conn.Send(protocol.ErrorEnvelope("login requires a username and password"))
	}

	err := h.accounts.Verify(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrAccountNotFound):
			return c.conn.Send(protocol.ErrorEnvelope("Username not found. Use 'register' to create an account."))
		case errors.Is(err, postgres.ErrInvalidCredentials):
			return c.conn.Send(protocol.ErrorEnvelope("Incorrect credentials. Please try again..."))
		default:
			h.logger.Error("authentication error",
				zap.String("username", username),
				zap.Error(err),
			)
			return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
		}
	}

	// A later login supersedes an earlier one: the registry stops
	// routing to the displaced connection and we close it here.
	if displaced := h.registry.Register(username, c.conn); displaced != nil {
		_ = displaced.Conn.Send(protocol.ErrorEnvelope("logged in from another connection"))
		_ = displaced.Conn.Close()
	}
	c.identity = username

	if err := h.presence.SetStatus(ctx, username, string(session.StatusOnline)); err != nil {
		h.logger.Warn("persisting online status", zap.String("username", username), zap.Error(err))
	}

	if err := c.conn.Send(protocol.NewEnvelope(protocol.KindLoggedIn, "", username, "SUCCESS")); err != nil {
		return fmt.Errorf("writing login reply: %w", err)
	}

	h.logger.Info("user logged in", zap.String("username", username))
	h.notifyFriendsOnline(ctx, c)
	return nil
}

// notifyFriendsOnline sends an online notification to every accepted
// friend who is currently connected.
func (h *Handler) notifyFriendsOnline(ctx context.Context, c *client) {
	friends, err := h.friends.ListFriends(ctx, c.identity)
	if err != nil {
		h.logger.Warn("listing friends for presence notification",
			zap.String("username", c.identity),
			zap.Error(err),
		)
		return
	}

	notice := protocol.NewEnvelope(protocol.KindOnlineNotification, c.identity, "", "")
	for _, friend := range friends {
		conn, ok := h.registry.Lookup(friend)
		if !ok {
			continue
		}
		if err := conn.Send(notice); err != nil {
			h.logger.Debug("sending online notification",
				zap.String("friend", friend),
				zap.Error(err),
			)
		}
	}
}

// handleRegister creates an account. Registration never authenticates;
// the client must log in afterwards.
func (h *Handler) handleRegister(ctx context.Context, c *client, env protocol.Envelope) error {
	username := env.Sender
	password := env.Payload

	if len(username) < 3 || len(username) > 32 {
		return c.conn.Send(protocol.ErrorEnvelope("username must be 3-32 characters"))
	}
	if len(password) < 6 {
		return c.conn.Send(protocol.ErrorEnvelope("password must be at least 6 characters"))
	}

	if err := h.accounts.Register(ctx, username, password); err != nil {
		if errors.Is(err, postgres.ErrAccountExists) {
			return c.conn.Send(protocol.ErrorEnvelope("Username already registered, please choose another..."))
		}
		h.logger.Error("registration error",
			zap.String("username", username),
			zap.Error(err),
		)
		return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
	}

	h.logger.Info("account registered", zap.String("username", username))
	return c.conn.Send(protocol.NewEnvelope(protocol.KindRegistered, "", username, "You may now log in"))
}

// handleQuit performs the unconditional logout sequence: presence goes
// offline, the registry entry is removed, and any active game is torn
// down. It runs the same cleanup path as a transport failure.
func (h *Handler) handleQuit(ctx context.Context, c *client) error {
	_ = c.conn.Send(protocol.NewEnvelope(protocol.KindQuit, "", c.identity, "Goodbye!"))
	h.cleanup(c)
	return nil
}

// cleanup releases everything a connection holds. Idempotent: quit
// runs it eagerly and the HandleSession defer runs it again.
func (h *Handler) cleanup(c *client) {
	if !c.authenticated() {
		return
	}
	identity := c.identity

	h.games.HandleDisconnect(identity)

	// Only remove the entry if it still routes to this connection; a
	// newer login for the same identity owns the entry now.
	if h.registry.Remove(identity, c.conn) {
		// Bounded context: the socket may already be gone and the
		// caller's ctx with it.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetStatus(ctx, identity, "OFFLINE"); err != nil {
			h.logger.Warn("persisting offline status",
				zap.String("username", identity),
				zap.Error(err),
			)
		}
	}

	c.identity = ""
}

const helpText = `Available commands:
  broadcast <message>        - send a message to everyone online
  dm <username> <message>    - send a direct message
  add_friend <username>      - send a friend request
  view_friend_requests       - list pending friend requests
  view_friends               - list friends and their status
  game_invite <username>     - invite a friend to tic-tac-toe
  game_accept / game_deny    - answer a game invitation
  view_game_requests         - list pending game invitations
  set_status_away            - mark yourself away
  quit                       - disconnect`

func (h *Handler) handleHelp(_ context.Context, c *client, _ protocol.Envelope) error {
	return c.conn.Send(protocol.SuccessEnvelope(helpText))
}
