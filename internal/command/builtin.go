package command

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/agentchat/internal/domain"
)

// SystemSender is the reserved identity used for server-originated messages.
const SystemSender = "system"

// SystemMessage is the message:new event emitted by /system.
type SystemMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Room      string          `json:"room"`
	Timestamp int64           `json:"timestamp"`
	Message   string          `json:"message"`
	Metadata  domain.Metadata `json:"metadata"`
}

// NewDefaultRegistry returns a Registry holding the built-in commands.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins adds help and system to r.
func RegisterBuiltins(r *Registry) {
	_ = r.Register("help", "List available commands", helpHandler(r))
	_ = r.Register("system", "Broadcast a system message to the room", systemHandler)
}

func helpHandler(r *Registry) Handler {
	return func(context.Context, string, Context) (string, error) {
		lines := make([]string, 0)
		for _, c := range r.List() {
			lines = append(lines, "/"+c.Name+" - "+c.Description)
		}
		return strings.Join(lines, "\n"), nil
	}
}

func systemHandler(_ context.Context, args string, c Context) (string, error) {
	text := strings.TrimSpace(args)
	if text == "" {
		return "Usage: /system <message>", nil
	}
	if c.Broadcast != nil {
		c.Broadcast(c.Room, SystemMessage{
			Type:      "message:new",
			ID:        uuid.NewString(),
			From:      SystemSender,
			Room:      c.Room,
			Timestamp: time.Now().UnixMilli(),
			Message:   text,
			Metadata:  domain.Metadata{"system": true},
		})
	}
	return "System message sent to #" + c.Room, nil
}
