package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/agentchat/internal/command"
)

func (d *Dispatcher) handleCommand(c *Client, identity, action string, f Frame) {
	var err error
	switch action {
	case "send":
		err = d.runCommand(c, identity, f)
	case "list":
		d.reply(c, CommandListEvent{Type: EventCommandList, Ref: f.Ref, Commands: d.commands.List()})
	default:
		err = ErrMalformedFrame
	}
	if err != nil {
		d.replyError(c, EventCommandError, f, err)
	}
}

func (d *Dispatcher) runCommand(c *Client, identity string, f Frame) error {
	name := strings.TrimPrefix(strings.TrimSpace(f.Command), "/")
	if name == "" {
		return fmt.Errorf("%w: missing command", ErrInvalidRequest)
	}

	result, err := d.commands.Execute(d.hub.Context(), name, f.Args, command.Context{
		Username: identity,
		Room:     f.Room,
		Store:    d.store,
		Broadcast: func(room string, event any) {
			d.hub.BroadcastToRoom(room, encode(event), nil)
		},
	})
	if errors.Is(err, command.ErrUnknownCommand) {
		return err
	}
	if err != nil {
		return fmt.Errorf("command %s: %w", name, err)
	}
	d.reply(c, CommandResultEvent{Type: EventCommandResult, Ref: f.Ref, Room: f.Room, Command: name, Result: result})
	return nil
}
