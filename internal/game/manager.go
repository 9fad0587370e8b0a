// Package game pairs two online identities into a relayed tic-tac-toe
// match. The Manager owns the authoritative board and turn state for
// every active game; board state supplied by clients is advisory only.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/chat/session"
	"github.com/parlorchat/parlor/internal/game/tictactoe"
	"github.com/parlorchat/parlor/internal/protocol"
)

// Manager errors surfaced to the requesting client as protocol errors.
var (
	ErrPeerOffline   = errors.New("peer is not online")
	ErrSelfInvite    = errors.New("cannot invite yourself")
	ErrAlreadyInGame = errors.New("player already has an active game")
	ErrNoInvite      = errors.New("no pending invitation")
	ErrNoActiveGame  = errors.New("no active game")
	ErrNotYourTurn   = errors.New("not your turn")
)

// Invitation response statuses persisted via the RecordStore.
const (
	ResponseAccepted = "ACCEPTED"
	ResponseDenied   = "DENIED"
)

// Peers resolves an identity to its live connection. Satisfied by
// session.Registry.
type Peers interface {
	Lookup(identity string) (session.Conn, bool)
}

// RecordStore persists game invitations and responses.
type RecordStore interface {
	RecordInvite(ctx context.Context, requester, recipient string) error
	RecordResponse(ctx context.Context, requester, recipient, status string) error
}

// BoardAux is the structured payload of game_board envelopes.
type BoardAux struct {
	// Board is the rendered 3x3 grid in NumPad layout.
	Board string `json:"board"`
	// Help is the cell-number reference grid.
	Help string `json:"help"`
	// Turn is the mark whose move it is.
	Turn string `json:"turn"`
	// Mark is the receiving player's own mark.
	Mark string `json:"mark"`
}

// Session is one active game between two identities. The inviting
// player holds X and moves first; the accepting player holds O.
type Session struct {
	ID      uuid.UUID
	PlayerX string
	PlayerO string
	Board   tictactoe.Board
	Turn    tictactoe.Mark
}

// mark returns the mark held by identity within this session.
func (s *Session) mark(identity string) tictactoe.Mark {
	if identity == s.PlayerX {
		return tictactoe.MarkX
	}
	return tictactoe.MarkO
}

// opponent returns the other identity in this session.
func (s *Session) opponent(identity string) string {
	if identity == s.PlayerX {
		return s.PlayerO
	}
	return s.PlayerX
}

type inviteKey struct {
	requester string
	recipient string
}

// Manager tracks pending invitations and active game sessions. All
// methods are safe for concurrent use; relays to peer connections
// happen outside the manager's critical section.
type Manager struct {
	peers   Peers
	records RecordStore
	logger  *zap.Logger

	mu       sync.Mutex
	invites  map[inviteKey]bool
	byPlayer map[string]*Session // both identities map to the same session
}

// NewManager creates a Manager that relays through peers and persists
// invitation records through records.
//
// Precondition: peers, records, and logger must be non-nil.
func NewManager(peers Peers, records RecordStore, logger *zap.Logger) *Manager {
	return &Manager{
		peers:    peers,
		records:  records,
		logger:   logger,
		invites:  make(map[inviteKey]bool),
		byPlayer: make(map[string]*Session),
	}
}

// Invite records a game invitation from requester and relays it to the
// recipient's connection.
//
// Postcondition: Returns nil and the recipient has been notified, or
// one of ErrSelfInvite, ErrPeerOffline, ErrAlreadyInGame, or a
// persistence error. No in-memory state changes on error.
func (m *Manager) Invite(ctx context.Context, requester, recipient string) error {
	if requester == recipient {
		return ErrSelfInvite
	}

	conn, ok := m.peers.Lookup(recipient)
	if !ok {
		return ErrPeerOffline
	}

	m.mu.Lock()
	if m.byPlayer[requester] != nil || m.byPlayer[recipient] != nil {
		m.mu.Unlock()
		return ErrAlreadyInGame
	}
	m.mu.Unlock()

	if err := m.records.RecordInvite(ctx, requester, recipient); err != nil {
		return fmt.Errorf("recording invite: %w", err)
	}

	m.mu.Lock()
	m.invites[inviteKey{requester, recipient}] = true
	m.mu.Unlock()

	notice := protocol.NewEnvelope(protocol.KindGameInvite, requester, recipient,
		fmt.Sprintf("%s has invited you to play tic-tac-toe", requester))
	if err := conn.Send(notice); err != nil {
		m.logger.Warn("relaying game invite",
			zap.String("requester", requester),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
	}
	return nil
}

// Accept creates the game session for a pending invitation. The
// accepting party receives O and moves second; the first-turn board is
// sent to the requester.
//
// Postcondition: Returns nil with an active session registered for both
// identities, or an error with no session created.
func (m *Manager) Accept(ctx context.Context, recipient, requester string) error {
	m.mu.Lock()
	if !m.invites[inviteKey{requester, recipient}] {
		m.mu.Unlock()
		return ErrNoInvite
	}
	m.mu.Unlock()

	requesterConn, ok := m.peers.Lookup(requester)
	if !ok {
		// The inviter left; the invitation dies with them.
		m.mu.Lock()
		delete(m.invites, inviteKey{requester, recipient})
		m.mu.Unlock()
		return ErrPeerOffline
	}

	if err := m.records.RecordResponse(ctx, requester, recipient, ResponseAccepted); err != nil {
		return fmt.Errorf("recording response: %w", err)
	}

	sess := &Session{
		ID:      uuid.New(),
		PlayerX: requester,
		PlayerO: recipient,
		Board:   tictactoe.NewBoard(),
		Turn:    tictactoe.MarkX,
	}

	m.mu.Lock()
	// The recorded response has consumed the invitation either way.
	delete(m.invites, inviteKey{requester, recipient})
	if m.byPlayer[requester] != nil || m.byPlayer[recipient] != nil {
		m.mu.Unlock()
		return ErrAlreadyInGame
	}
	m.byPlayer[requester] = sess
	m.byPlayer[recipient] = sess
	m.mu.Unlock()

	m.logger.Info("game started",
		zap.String("game_id", sess.ID.String()),
		zap.String("player_x", requester),
		zap.String("player_o", recipient),
	)

	board := boardEnvelope(sess, requester, "It's your move", sess.Board, sess.Turn)
	if err := requesterConn.Send(board); err != nil {
		m.teardown(sess, requester)
		return fmt.Errorf("relaying first board: %w", err)
	}
	return nil
}

// Deny records a denied invitation and notifies the requester if they
// are still online.
func (m *Manager) Deny(ctx context.Context, recipient, requester string) error {
	m.mu.Lock()
	if !m.invites[inviteKey{requester, recipient}] {
		m.mu.Unlock()
		return ErrNoInvite
	}
	delete(m.invites, inviteKey{requester, recipient})
	m.mu.Unlock()

	if err := m.records.RecordResponse(ctx, requester, recipient, ResponseDenied); err != nil {
		return fmt.Errorf("recording response: %w", err)
	}

	if conn, ok := m.peers.Lookup(requester); ok {
		notice := protocol.NewEnvelope(protocol.KindGameDeny, recipient, requester,
			fmt.Sprintf("%s declined your invitation", recipient))
		_ = conn.Send(notice)
	}
	return nil
}

// Move applies one move by player to their active game.
//
// Turn ownership is enforced here, not in the engine: a move from the
// player who does not hold the turn is rejected before the engine runs.
// An illegal move (occupied cell) is relayed back to the same mover
// without flipping the turn; a continuing move flips the turn and
// relays the board to the opponent; a terminal move notifies both
// players and destroys the session.
func (m *Manager) Move(ctx context.Context, player string, cell int) error {
	m.mu.Lock()
	sess := m.byPlayer[player]
	if sess == nil {
		m.mu.Unlock()
		return ErrNoActiveGame
	}
	mark := sess.mark(player)
	if sess.Turn != mark {
		m.mu.Unlock()
		return ErrNotYourTurn
	}

	res := tictactoe.Apply(sess.Board, mark, cell)
	sess.Board = res.Board
	if res.Outcome == tictactoe.OutcomeContinue {
		sess.Turn = mark.Other()
	}
	opponent := sess.opponent(player)
	if res.Outcome.Terminal() {
		delete(m.byPlayer, sess.PlayerX)
		delete(m.byPlayer, sess.PlayerO)
	}
	// Snapshot what the relays need; sends happen outside the lock and
	// the opponent may mutate the session concurrently after a flip.
	board := sess.Board
	turn := sess.Turn
	m.mu.Unlock()

	switch res.Outcome {
	case tictactoe.OutcomeIllegalMove:
		return m.relayIllegalMove(sess, player, board, turn)
	case tictactoe.OutcomeContinue:
		return m.relayContinue(sess, opponent, board, turn)
	default:
		m.relayGameOver(sess, res)
		return nil
	}
}

// relayIllegalMove re-prompts the same mover; the turn does not flip.
func (m *Manager) relayIllegalMove(sess *Session, player string, board tictactoe.Board, turn tictactoe.Mark) error {
	conn, ok := m.peers.Lookup(player)
	if !ok {
		m.HandleDisconnect(player)
		return ErrPeerOffline
	}
	env := boardEnvelope(sess, player, "Space already filled! Move to which place?", board, turn)
	if err := conn.Send(env); err != nil {
		m.HandleDisconnect(player)
		return fmt.Errorf("relaying correction: %w", err)
	}
	return nil
}

// relayContinue sends the updated board to the player now holding the
// turn. A missing or dead opponent tears the game down and the mover
// receives the abandonment notice.
func (m *Manager) relayContinue(sess *Session, opponent string, board tictactoe.Board, turn tictactoe.Mark) error {
	conn, ok := m.peers.Lookup(opponent)
	if !ok {
		m.HandleDisconnect(opponent)
		return nil
	}
	env := boardEnvelope(sess, opponent, fmt.Sprintf("It's your move, %s", opponent), board, turn)
	if err := conn.Send(env); err != nil {
		m.logger.Warn("relaying board to opponent",
			zap.String("game_id", sess.ID.String()),
			zap.String("opponent", opponent),
			zap.Error(err),
		)
		m.HandleDisconnect(opponent)
	}
	return nil
}

// relayGameOver notifies both players of a terminal outcome. The
// session has already been removed from the table.
func (m *Manager) relayGameOver(sess *Session, res tictactoe.Result) {
	var msg string
	if res.Outcome == tictactoe.OutcomeWon {
		msg = fmt.Sprintf("Game Over! %s won!", res.Winner)
	} else {
		msg = "Game Over! It's a tie!"
	}

	m.logger.Info("game finished",
		zap.String("game_id", sess.ID.String()),
		zap.String("outcome", res.Outcome.String()),
	)

	for _, identity := range []string{sess.PlayerX, sess.PlayerO} {
		conn, ok := m.peers.Lookup(identity)
		if !ok {
			continue
		}
		env, err := protocol.NewEnvelope(protocol.KindGameOver, "", identity, msg).
			WithAux(BoardAux{
				Board: res.Board.Render(),
				Help:  tictactoe.HelpBoard,
				Turn:  res.Winner.String(),
				Mark:  sess.mark(identity).String(),
			})
		if err != nil {
			continue
		}
		_ = conn.Send(env)
	}
}

// HandleDisconnect tears down the active game of a departed identity,
// sending the surviving player exactly one abandonment notice. Safe to
// call for identities without an active game. Pending invitations
// involving the identity are dropped.
func (m *Manager) HandleDisconnect(identity string) {
	m.mu.Lock()
	for key := range m.invites {
		if key.requester == identity || key.recipient == identity {
			delete(m.invites, key)
		}
	}
	sess := m.byPlayer[identity]
	var survivor string
	if sess != nil {
		survivor = sess.opponent(identity)
		delete(m.byPlayer, sess.PlayerX)
		delete(m.byPlayer, sess.PlayerO)
	}
	m.mu.Unlock()

	if sess == nil {
		return
	}

	m.logger.Info("game abandoned",
		zap.String("game_id", sess.ID.String()),
		zap.String("departed", identity),
		zap.String("survivor", survivor),
	)

	if conn, ok := m.peers.Lookup(survivor); ok {
		notice := protocol.NewEnvelope(protocol.KindGameAbandoned, identity, survivor,
			fmt.Sprintf("%s left the game; it has been abandoned", identity))
		_ = conn.Send(notice)
	}
}

// teardown removes a session without notifying the given identity.
func (m *Manager) teardown(sess *Session, departed string) {
	m.mu.Lock()
	delete(m.byPlayer, sess.PlayerX)
	delete(m.byPlayer, sess.PlayerO)
	m.mu.Unlock()

	survivor := sess.opponent(departed)
	if conn, ok := m.peers.Lookup(survivor); ok {
		notice := protocol.NewEnvelope(protocol.KindGameAbandoned, departed, survivor,
			fmt.Sprintf("%s left the game; it has been abandoned", departed))
		_ = conn.Send(notice)
	}
}

// ActiveGame returns the session identity participates in, if any.
func (m *Manager) ActiveGame(identity string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byPlayer[identity]
	return sess, ok
}

// boardEnvelope builds a game_board envelope addressed to identity.
func boardEnvelope(sess *Session, identity, msg string, board tictactoe.Board, turn tictactoe.Mark) protocol.Envelope {
	env, err := protocol.NewEnvelope(protocol.KindGameBoard, "", identity, msg).
		WithAux(BoardAux{
			Board: board.Render(),
			Help:  tictactoe.HelpBoard,
			Turn:  turn.String(),
			Mark:  sess.mark(identity).String(),
		})
	if err != nil {
		// BoardAux marshalling cannot fail; fall back to text only.
		return protocol.NewEnvelope(protocol.KindGameBoard, "", identity, msg)
	}
	return env
}
