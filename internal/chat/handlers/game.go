package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/game"
	"github.com/parlorchat/parlor/internal/game/tictactoe"
	"github.com/parlorchat/parlor/internal/protocol"
)

func (h *Handler) handleGameInvite(ctx context.Context, c *client, env protocol.Envelope) error {
	recipient := env.Recipient
	if recipient == "" {
		return c.conn.Send(protocol.ErrorEnvelope("recipient required"))
	}

	if err := h.games.Invite(ctx, c.identity, recipient); err != nil {
		return c.conn.Send(h.gameError(c, err))
	}
	return c.conn.Send(protocol.SuccessEnvelope("invitation sent to " + recipient))
}

func (h *Handler) handleGameAccept(ctx context.Context, c *client, env protocol.Envelope) error {
	requester := env.Recipient
	if requester == "" {
		return c.conn.Send(protocol.ErrorEnvelope("requester required"))
	}

	if err := h.games.Accept(ctx, c.identity, requester); err != nil {
		return c.conn.Send(h.gameError(c, err))
	}
	return c.conn.Send(protocol.SuccessEnvelope(
		"game started against " + requester + "; they move first"))
}

func (h *Handler) handleGameDeny(ctx context.Context, c *client, env protocol.Envelope) error {
	requester := env.Recipient
	if requester == "" {
		return c.conn.Send(protocol.ErrorEnvelope("requester required"))
	}

	if err := h.games.Deny(ctx, c.identity, requester); err != nil {
		return c.conn.Send(h.gameError(c, err))
	}
	return c.conn.Send(protocol.SuccessEnvelope("invitation declined"))
}

func (h *Handler) handleGameMove(ctx context.Context, c *client, env protocol.Envelope) error {
	cell, err := moveCell(env)
	if err != nil {
		return c.conn.Send(protocol.ErrorEnvelope("move requires a cell number 1-9"))
	}

	if err := h.games.Move(ctx, c.identity, cell); err != nil {
		return c.conn.Send(h.gameError(c, err))
	}
	return nil
}

func (h *Handler) handleViewGameRequests(ctx context.Context, c *client, _ protocol.Envelope) error {
	pending, err := h.records.ListPendingInvites(ctx, c.identity)
	if err != nil {
		h.logger.Error("listing game invites", zap.String("username", c.identity), zap.Error(err))
		return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
	}
	return c.conn.Send(protocol.NewEnvelope(
		protocol.KindGameRequests, "", c.identity, strings.Join(pending, "\n")))
}

// gameError maps manager errors onto protocol error envelopes.
func (h *Handler) gameError(c *client, err error) protocol.Envelope {
	switch {
	case errors.Is(err, game.ErrPeerOffline):
		return protocol.ErrorEnvelope("Username not found")
	case errors.Is(err, game.ErrSelfInvite):
		return protocol.ErrorEnvelope("you cannot play against yourself")
	case errors.Is(err, game.ErrAlreadyInGame):
		return protocol.ErrorEnvelope("a game is already in progress")
	case errors.Is(err, game.ErrNoInvite):
		return protocol.ErrorEnvelope("no pending invitation")
	case errors.Is(err, game.ErrNoActiveGame):
		return protocol.ErrorEnvelope("you have no active game")
	case errors.Is(err, game.ErrNotYourTurn):
		return protocol.ErrorEnvelope("it is not your turn")
	default:
		h.logger.Error("game operation failed",
			zap.String("username", c.identity),
			zap.Error(err),
		)
		return protocol.ErrorEnvelope("internal error, please try again")
	}
}

// moveCell extracts the target cell from a game_move envelope. The
// canonical form is aux {"cell": n}; legacy clients send the whole
// [board, turn, move] triple, in which case only the trailing move is
// used. Any client-supplied board state is ignored; the manager's board
// is authoritative.
func moveCell(env protocol.Envelope) (int, error) {
	if len(env.Aux) == 0 {
		if cell, err := strconv.Atoi(strings.TrimSpace(env.Payload)); err == nil {
			return validCell(cell)
		}
		return 0, errors.New("missing move")
	}

	var obj struct {
		Cell *int `json:"cell"`
	}
	if err := json.Unmarshal(env.Aux, &obj); err == nil && obj.Cell != nil {
		return validCell(*obj.Cell)
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(env.Aux, &arr); err == nil && len(arr) > 0 {
		last := arr[len(arr)-1]
		var asInt int
		if err := json.Unmarshal(last, &asInt); err == nil {
			return validCell(asInt)
		}
		var asString string
		if err := json.Unmarshal(last, &asString); err == nil {
			if cell, err := strconv.Atoi(strings.TrimSpace(asString)); err == nil {
				return validCell(cell)
			}
		}
	}

	return 0, errors.New("unparseable move")
}

func validCell(cell int) (int, error) {
	if !tictactoe.ValidCell(cell) {
		return 0, errors.New("cell out of range")
	}
	return cell, nil
}
