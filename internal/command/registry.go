// Package command holds the table of server-side slash commands that clients
// invoke from a room. The table is built explicitly at startup and handed to
// the dispatcher.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Tyrowin/agentchat/internal/repo"
)

// ErrUnknownCommand is returned by Execute when no command has the given name.
var ErrUnknownCommand = errors.New("unknown command")

// Context is what a command sees about its invocation.
type Context struct {
	Username string
	Room     string
	Store    repo.Store
	// Broadcast fans event out to every live member of room.
	Broadcast func(room string, event any)
}

// Handler runs a command and returns the text shown to the invoker.
type Handler func(ctx context.Context, args string, c Context) (string, error)

// Info describes a registered command.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type entry struct {
	description string
	handler     Handler
}

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]entry)}
}

// Register adds a command. Names must be unique and non-empty.
func (r *Registry) Register(name, description string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("command name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("command %q already registered", name)
	}
	r.commands[name] = entry{description: description, handler: h}
	return nil
}

// Execute runs the named command.
func (r *Registry) Execute(ctx context.Context, name, args string, c Context) (string, error) {
	r.mu.RLock()
	e, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok {
		return "", ErrUnknownCommand
	}
	return e.handler(ctx, args, c)
}

// List returns every command sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.commands))
	for name, e := range r.commands {
		out = append(out, Info{Name: name, Description: e.description})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
