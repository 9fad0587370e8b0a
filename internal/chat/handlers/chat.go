package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parlorchat/parlor/internal/chat/session"
	"github.com/parlorchat/parlor/internal/protocol"
	"github.com/parlorchat/parlor/internal/storage/postgres"
)

// handleBroadcast fans the message out to every other online identity.
// The sender receives a success acknowledgement instead of an echo of
// their own message.
func (h *Handler) handleBroadcast(_ context.Context, c *client, env protocol.Envelope) error {
	if env.Payload == "" {
		return c.conn.Send(protocol.ErrorEnvelope("nothing to broadcast"))
	}

	relay := protocol.NewEnvelope(protocol.KindBroadcast, c.identity, "", env.Payload)
	delivered := 0
	h.registry.ForEachOnline(func(identity string, conn session.Conn) {
		if identity == c.identity {
			return
		}
		if err := conn.Send(relay); err != nil {
			// The recipient's own handler notices the dead socket;
			// a broadcast must never fail the sender.
			h.logger.Debug("broadcast delivery failed",
				zap.String("recipient", identity),
				zap.Error(err),
			)
			return
		}
		delivered++
	})

	return c.conn.Send(protocol.SuccessEnvelope(fmt.Sprintf("broadcast to %d users", delivered)))
}

// handleAuthenticateDM checks the recipient is online and returns the
// recent conversation history between the two identities.
func (h *Handler) handleAuthenticateDM(ctx context.Context, c *client, env protocol.Envelope) error {
	recipient := env.Recipient
	if recipient == "" {
		return c.conn.Send(protocol.ErrorEnvelope("recipient required"))
	}
	if !h.registry.Online(recipient) {
		return c.conn.Send(protocol.ErrorEnvelope("Username not found"))
	}

	history, err := h.messages.RecentBetween(ctx, c.identity, recipient, dmHistoryLimit)
	if err != nil {
		h.logger.Error("fetching message history",
			zap.String("requester", c.identity),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
	}

	reply, err := protocol.NewEnvelope(protocol.KindDMHistory, recipient, c.identity, "").WithAux(history)
	if err != nil {
		return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
	}
	return c.conn.Send(reply)
}

// handleDirectMessage relays one message to an online recipient and
// persists it. An offline recipient is an error before any persistence
// happens.
func (h *Handler) handleDirectMessage(ctx context.Context, c *client, env protocol.Envelope) error {
	recipient := env.Recipient
	if recipient == "" || env.Payload == "" {
		return c.conn.Send(protocol.ErrorEnvelope("recipient and message required"))
	}

	conn, ok := h.registry.Lookup(recipient)
	if !ok {
		return c.conn.Send(protocol.ErrorEnvelope("Username not found"))
	}

	if err := h.messages.Append(ctx, c.identity, recipient, env.Payload); err != nil {
		h.logger.Error("persisting direct message",
			zap.String("sender", c.identity),
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		return c.conn.Send(protocol.ErrorEnvelope("message could not be stored"))
	}

	relay := protocol.NewEnvelope(protocol.KindDirectMessage, c.identity, recipient, env.Payload)
	if err := conn.Send(relay); err != nil {
		// The recipient vanished between lookup and relay; their
		// handler cleans up. Tell the sender rather than stay silent.
		return c.conn.Send(protocol.ErrorEnvelope("could not deliver message"))
	}
	return nil
}

// handleAddFriend records a friend request, promoting a mutual request
// to an accepted friendship.
func (h *Handler) handleAddFriend(ctx context.Context, c *client, env protocol.Envelope) error {
	recipient := env.Recipient
	if recipient == "" {
		return c.conn.Send(protocol.ErrorEnvelope("recipient required"))
	}
	if recipient == c.identity {
		return c.conn.Send(protocol.ErrorEnvelope("cannot befriend yourself"))
	}

	accepted, err := h.friends.RequestFriend(ctx, c.identity, recipient)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrAccountNotFound):
			return c.conn.Send(protocol.ErrorEnvelope("Username not found..."))
		case errors.Is(err, postgres.ErrFriendRequestPending):
			return c.conn.Send(protocol.ErrorEnvelope("friend request already pending"))
		case errors.Is(err, postgres.ErrAlreadyFriends):
			return c.conn.Send(protocol.ErrorEnvelope("you are already friends"))
		default:
			h.logger.Error("recording friend request",
				zap.String("requester", c.identity),
				zap.String("recipient", recipient),
				zap.Error(err),
			)
			return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
		}
	}

	if accepted {
		return c.conn.Send(protocol.SuccessEnvelope("Friend added"))
	}
	return c.conn.Send(protocol.SuccessEnvelope("Friend request sent"))
}

func (h *Handler) handleViewFriendRequests(ctx context.Context, c *client, _ protocol.Envelope) error {
	pending, err := h.friends.ListPendingRequests(ctx, c.identity)
	if err != nil {
		h.logger.Error("listing friend requests", zap.String("username", c.identity), zap.Error(err))
		return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
	}
	return c.conn.Send(protocol.NewEnvelope(
		protocol.KindFriendRequests, "", c.identity, strings.Join(pending, "\n")))
}

// handleViewFriends lists friends with their live presence: the
// registry's status for connected friends, OFFLINE otherwise.
func (h *Handler) handleViewFriends(ctx context.Context, c *client, _ protocol.Envelope) error {
	friends, err := h.friends.ListFriends(ctx, c.identity)
	if err != nil {
		h.logger.Error("listing friends", zap.String("username", c.identity), zap.Error(err))
		return c.conn.Send(protocol.ErrorEnvelope("internal error, please try again"))
	}

	lines := make([]string, 0, len(friends))
	for _, friend := range friends {
		status := "OFFLINE"
		if sess, ok := h.registry.Get(friend); ok {
			status = string(sess.Status)
		}
		lines = append(lines, friend+" : "+status)
	}
	return c.conn.Send(protocol.NewEnvelope(
		protocol.KindFriendList, "", c.identity, strings.Join(lines, "\n")))
}

// handleSetStatusAway flips presence to AWAY in both the registry and
// the persistent store.
func (h *Handler) handleSetStatusAway(ctx context.Context, c *client, _ protocol.Envelope) error {
	h.registry.SetStatus(c.identity, session.StatusAway)
	if err := h.presence.SetStatus(ctx, c.identity, string(session.StatusAway)); err != nil {
		h.logger.Warn("persisting away status", zap.String("username", c.identity), zap.Error(err))
	}
	return c.conn.Send(protocol.NewEnvelope(
		protocol.KindStatus, "", c.identity, "Status: AWAY"))
}
