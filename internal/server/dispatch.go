package server

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/agentchat/internal/auth"
	"github.com/Tyrowin/agentchat/internal/command"
	"github.com/Tyrowin/agentchat/internal/logging"
	"github.com/Tyrowin/agentchat/internal/repo"
)

// HistoryLimits bounds history requests. A request without a positive limit
// gets Default; larger requests are capped at Max.
type HistoryLimits struct {
	Default int
	Max     int
}

func (l HistoryLimits) resolve(n int) int {
	if n <= 0 {
		return l.Default
	}
	if l.Max > 0 && n > l.Max {
		return l.Max
	}
	return n
}

// Dispatcher decodes inbound frames and routes them by family. It runs on
// each session's read goroutine, so frames from one session are handled in
// order.
type Dispatcher struct {
	hub      *Hub
	store    repo.Store
	auth     *auth.Service
	commands *command.Registry
	limits   HistoryLimits
	log      zerolog.Logger
}

// NewDispatcher wires a Dispatcher to its collaborators.
func NewDispatcher(hub *Hub, store repo.Store, authSvc *auth.Service, commands *command.Registry, limits HistoryLimits) *Dispatcher {
	if limits.Default <= 0 {
		limits.Default = 100
	}
	if limits.Max < limits.Default {
		limits.Max = limits.Default
	}
	return &Dispatcher{
		hub:      hub,
		store:    store,
		auth:     authSvc,
		commands: commands,
		limits:   limits,
		log:      logging.Component("dispatcher"),
	}
}

// Dispatch handles one raw frame from c.
func (d *Dispatcher) Dispatch(c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
		framesReceived.WithLabelValues("unknown").Inc()
		c.log.Debug().Err(err).Msg("malformed frame")
		d.replyError(c, EventSystemError, f, ErrMalformedFrame)
		return
	}

	family, action := f.family()
	framesReceived.WithLabelValues(familyLabel(family)).Inc()

	if f.Type == "ping" {
		d.reply(c, PongEvent{Type: EventPong, Ref: f.Ref})
		return
	}

	switch family {
	case "auth":
		d.handleAuth(c, action, f)
		return
	case "room", "message", "dm", "command":
	default:
		d.replyError(c, EventSystemError, f, ErrMalformedFrame)
		return
	}

	identity := d.hub.Identity(c)
	if identity == "" {
		d.replyError(c, EventSystemError, f, ErrUnauthenticated)
		return
	}

	switch family {
	case "room":
		d.handleRoom(c, identity, action, f)
	case "message":
		d.handleMessage(c, identity, action, f)
	case "dm":
		d.handleDM(c, identity, action, f)
	case "command":
		d.handleCommand(c, identity, action, f)
	}
}

func (d *Dispatcher) reply(c *Client, event any) {
	d.hub.SendToSession(c, encode(event))
}

// replyError sends a typed error for frame f back to c only.
func (d *Dispatcher) replyError(c *Client, eventType string, f Frame, err error) {
	ev := ErrorEvent{
		Type:    eventType,
		Ref:     f.Ref,
		Code:    errorCode(err),
		Message: errorMessage(err),
	}
	switch eventType {
	case EventRoomError:
		ev.Room = f.Room
		if ev.Room == "" {
			ev.Room = f.Name
		}
	case EventCommandError:
		ev.Room = f.Room
		ev.Command = f.Command
	default:
		if family, _ := f.family(); family == "message" {
			ev.Room = f.Room
		}
	}
	if ev.Code == CodeInternal {
		c.log.Error().Err(err).Str(logging.FieldType, f.Type).Msg("request failed")
	}
	d.reply(c, ev)
}
