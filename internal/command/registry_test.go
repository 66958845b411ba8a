package command

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegister_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, string, Context) (string, error) { return "", nil }
	if err := r.Register("x", "d", h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("x", "d", h); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := r.Register("", "d", h); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestExecute_Unknown(t *testing.T) {
	r := NewDefaultRegistry()
	if _, err := r.Execute(context.Background(), "nope", "", Context{}); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestHelp_ListsAllCommands(t *testing.T) {
	r := NewDefaultRegistry()
	out, err := r.Execute(context.Background(), "help", "", Context{})
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	want := "/help - List available commands\n/system - Broadcast a system message to the room"
	if out != want {
		t.Fatalf("help output:\n%s\nwant:\n%s", out, want)
	}
}

func TestList_Sorted(t *testing.T) {
	r := NewDefaultRegistry()
	got := r.List()
	if len(got) != 2 || got[0].Name != "help" || got[1].Name != "system" {
		t.Fatalf("List = %+v", got)
	}
}

func TestSystem_BroadcastsToRoom(t *testing.T) {
	r := NewDefaultRegistry()

	var gotRoom string
	var gotEvent any
	c := Context{
		Username: "alice",
		Room:     "general",
		Broadcast: func(room string, event any) {
			gotRoom, gotEvent = room, event
		},
	}

	out, err := r.Execute(context.Background(), "system", "  maintenance at noon ", c)
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	if out != "System message sent to #general" {
		t.Fatalf("result = %q", out)
	}
	if gotRoom != "general" {
		t.Fatalf("broadcast room = %q", gotRoom)
	}
	msg, ok := gotEvent.(SystemMessage)
	if !ok {
		t.Fatalf("event type %T", gotEvent)
	}
	if msg.Type != "message:new" || msg.From != SystemSender || msg.Message != "maintenance at noon" || msg.Metadata["system"] != true {
		t.Fatalf("event = %+v", msg)
	}
	if msg.ID == "" || msg.Timestamp == 0 {
		t.Fatalf("event missing id/timestamp: %+v", msg)
	}
}

func TestSystem_UsageWhenEmpty(t *testing.T) {
	r := NewDefaultRegistry()
	called := false
	out, _ := r.Execute(context.Background(), "system", "   ", Context{
		Room:      "general",
		Broadcast: func(string, any) { called = true },
	})
	if !strings.HasPrefix(out, "Usage:") || called {
		t.Fatalf("out = %q called = %v", out, called)
	}
}
