package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/agentchat/internal/domain"
	"github.com/Tyrowin/agentchat/internal/repo"
)

const maxRoomNameLen = 128

func (d *Dispatcher) handleRoom(c *Client, identity, action string, f Frame) {
	var err error
	switch action {
	case "create":
		err = d.createRoom(c, identity, f)
	case "list":
		err = d.listRooms(c, f)
	case "join":
		err = d.joinRoom(c, identity, f)
	case "leave":
		err = d.leaveRoom(c, identity, f)
	case "users":
		err = d.roomUsers(c, f)
	case "history":
		err = d.roomHistory(c, f)
	default:
		err = ErrMalformedFrame
	}
	if err != nil {
		d.replyError(c, EventRoomError, f, err)
	}
}

var errRoomNameRequired = fmt.Errorf("%w: room name required", ErrInvalidRequest)

func (d *Dispatcher) createRoom(c *Client, identity string, f Frame) error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return errRoomNameRequired
	}
	if len(name) > maxRoomNameLen {
		return fmt.Errorf("%w: room name longer than %d characters", ErrInvalidRequest, maxRoomNameLen)
	}

	room, err := d.store.CreateRoom(d.hub.Context(), name, f.Description, f.Metadata, identity)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return ErrRoomExists
	}
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	d.reply(c, RoomCreatedEvent{Type: EventRoomCreated, Ref: f.Ref, Room: room})
	return nil
}

// listRooms reports every durable room with its live user count.
func (d *Dispatcher) listRooms(c *Client, f Frame) error {
	rooms, err := d.store.ListRooms(d.hub.Context())
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		md := r.Metadata
		if md == nil {
			md = domain.Metadata{}
		}
		out = append(out, RoomSummary{
			Name:        r.Name,
			Description: r.Description,
			Metadata:    md,
			UserCount:   len(d.hub.ListOnline(r.Name)),
		})
	}
	d.reply(c, RoomListEvent{Type: EventRoomList, Ref: f.Ref, Rooms: out})
	return nil
}

// requireRoom returns ErrRoomNotFound unless room is durably recorded.
func (d *Dispatcher) requireRoom(room string) error {
	if room == "" {
		return errRoomNameRequired
	}
	_, err := d.store.GetRoom(d.hub.Context(), room)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	return nil
}

func (d *Dispatcher) joinRoom(c *Client, identity string, f Frame) error {
	if err := d.requireRoom(f.Room); err != nil {
		return err
	}
	ctx := d.hub.Context()
	ev := MembershipEvent{Type: EventRoomJoined, Room: f.Room, User: identity}
	notice := encode(ev)
	ev.Ref = f.Ref

	err := d.hub.Join(c, f.Room, func() error {
		if err := d.store.AddMember(ctx, f.Room, identity); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
		return nil
	}, notice, encode(ev))
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	return err
}

func (d *Dispatcher) leaveRoom(c *Client, identity string, f Frame) error {
	if err := d.requireRoom(f.Room); err != nil {
		return err
	}
	ctx := d.hub.Context()
	ev := MembershipEvent{Type: EventRoomLeft, Room: f.Room, User: identity}
	notice := encode(ev)
	ev.Ref = f.Ref

	err := d.hub.Leave(c, f.Room, func() error {
		if err := d.store.RemoveMember(ctx, f.Room, identity); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		return nil
	}, notice, encode(ev))
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	return err
}

func (d *Dispatcher) roomUsers(c *Client, f Frame) error {
	if f.Room == "" {
		return errRoomNameRequired
	}
	ctx := d.hub.Context()
	online := d.hub.ListOnline(f.Room)
	users := make([]OnlineUser, 0, len(online))
	for _, name := range online {
		u := OnlineUser{Username: name, Online: true}
		if user, err := d.store.GetUser(ctx, name); err == nil {
			u.Avatar = user.Avatar
		}
		users = append(users, u)
	}
	d.reply(c, RoomUsersEvent{Type: EventRoomUsers, Ref: f.Ref, Room: f.Room, Users: users})
	return nil
}

func (d *Dispatcher) roomHistory(c *Client, f Frame) error {
	if err := d.requireRoom(f.Room); err != nil {
		return err
	}
	msgs, err := d.store.GetMessages(d.hub.Context(), f.Room, d.limits.resolve(f.Limit))
	if err != nil {
		return fmt.Errorf("get messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	d.reply(c, RoomHistoryEvent{Type: EventRoomHistory, Ref: f.Ref, Room: f.Room, Messages: msgs})
	return nil
}
