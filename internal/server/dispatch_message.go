package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/agentchat/internal/domain"
	"github.com/Tyrowin/agentchat/internal/repo"
)

func (d *Dispatcher) handleMessage(c *Client, identity, action string, f Frame) {
	var err error
	switch action {
	case "send":
		err = d.sendRoomMessage(c, identity, f)
	default:
		err = ErrMalformedFrame
	}
	if err != nil {
		d.replyError(c, EventSystemError, f, err)
	}
}

// sendRoomMessage persists and fans out a room message. The sender gets the
// same event as everyone else, carrying the generated id and timestamp.
func (d *Dispatcher) sendRoomMessage(c *Client, identity string, f Frame) error {
	if f.Room == "" || f.Message == "" {
		return fmt.Errorf("%w: room and message required", ErrInvalidRequest)
	}
	ctx := d.hub.Context()

	err := d.hub.PublishRoom(c, f.Room, func() ([]byte, []byte, error) {
		m := domain.Message{
			ID:        uuid.NewString(),
			Room:      f.Room,
			Sender:    identity,
			Body:      f.Message,
			Metadata:  metadataOrEmpty(f.Metadata),
			Timestamp: time.Now().UnixMilli(),
		}
		if err := d.store.SaveMessage(ctx, &m); err != nil {
			return nil, nil, fmt.Errorf("save message: %w", err)
		}
		ev := MessageEvent{Type: EventMessageNew, Message: m}
		notice := encode(ev)
		ev.Ref = f.Ref
		return notice, encode(ev), nil
	})
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	return err
}

func (d *Dispatcher) handleDM(c *Client, identity, action string, f Frame) {
	var err error
	switch action {
	case "send":
		err = d.sendDirectMessage(c, identity, f)
	case "history":
		err = d.directHistory(c, identity, f)
	case "list":
		err = d.listConversations(c, identity, f)
	default:
		err = ErrMalformedFrame
	}
	if err != nil {
		d.replyError(c, EventSystemError, f, err)
	}
}

// sendDirectMessage persists a DM, pushes it to the recipient's live
// sessions and always echoes it to the sender.
func (d *Dispatcher) sendDirectMessage(c *Client, identity string, f Frame) error {
	if f.To == "" || f.Message == "" {
		return fmt.Errorf("%w: recipient and message required", ErrInvalidRequest)
	}
	ctx := d.hub.Context()

	_, err := d.store.GetUser(ctx, f.To)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRecipientNotFound
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	delivered, err := d.hub.SendDirect(c, f.To, func() ([]byte, []byte, error) {
		m := domain.DirectMessage{
			ID:        uuid.NewString(),
			Sender:    identity,
			Recipient: f.To,
			Body:      f.Message,
			Metadata:  metadataOrEmpty(f.Metadata),
			Timestamp: time.Now().UnixMilli(),
		}
		if err := d.store.SaveDirectMessage(ctx, &m); err != nil {
			return nil, nil, fmt.Errorf("save direct message: %w", err)
		}
		ev := DirectMessageEvent{Type: EventDMNew, DirectMessage: m}
		notice := encode(ev)
		ev.Ref = f.Ref
		return notice, encode(ev), nil
	})
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	c.log.Debug().Str("to", f.To).Int("sessions", delivered).Msg("direct message sent")
	return nil
}

func (d *Dispatcher) directHistory(c *Client, identity string, f Frame) error {
	if f.With == "" {
		return fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	msgs, err := d.store.GetDirectMessages(d.hub.Context(), identity, f.With, d.limits.resolve(f.Limit))
	if err != nil {
		return fmt.Errorf("get direct messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.DirectMessage{}
	}
	d.reply(c, DMHistoryEvent{Type: EventDMHistory, Ref: f.Ref, With: f.With, Messages: msgs})
	return nil
}

func (d *Dispatcher) listConversations(c *Client, identity string, f Frame) error {
	partners, err := d.store.ListConversationPartners(d.hub.Context(), identity)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	if partners == nil {
		partners = []string{}
	}
	d.reply(c, DMListEvent{Type: EventDMList, Ref: f.Ref, Conversations: partners})
	return nil
}

func metadataOrEmpty(m domain.Metadata) domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return m
}
