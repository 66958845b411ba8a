package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestHub(t *testing.T, opts HubOptions) *Hub {
	t.Helper()
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 1024
	}
	return NewHub(opts)
}

// newSession attaches a pump-less session bound to identity.
func newSession(t *testing.T, h *Hub, identity string) *Client {
	t.Helper()
	c := NewClient(nil, h, "test")
	h.attach(c)
	if identity != "" {
		if err := h.Bind(c, identity, "token-"+identity); err != nil {
			t.Fatalf("Bind(%s): %v", identity, err)
		}
	}
	return c
}

// drain returns every event queued for c without blocking.
func drain(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("bad payload %q: %v", b, err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func types(events []map[string]any) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e["type"].(string))
	}
	return out
}

func join(t *testing.T, h *Hub, c *Client, room string) {
	t.Helper()
	ev := MembershipEvent{Type: EventRoomJoined, Room: room, User: c.identity}
	if err := h.Join(c, room, nil, encode(ev), encode(ev)); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

// TestJoin_EveryMemberSeesTheJoin verifies the joiner and existing members
// each receive exactly one room:joined event.
func TestJoin_EveryMemberSeesTheJoin(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")
	bob := newSession(t, h, "bob")

	join(t, h, alice, "general")
	drain(t, alice)
	join(t, h, bob, "general")

	if got := types(drain(t, alice)); !reflect.DeepEqual(got, []string{EventRoomJoined}) {
		t.Fatalf("alice events = %v", got)
	}
	if got := drain(t, bob); len(got) != 1 || got[0]["user"] != "bob" {
		t.Fatalf("bob events = %v", got)
	}
	if got := h.ListOnline("general"); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("online = %v", got)
	}
	if got := h.JoinedRooms(bob); !reflect.DeepEqual(got, []string{"general"}) {
		t.Fatalf("joined rooms = %v", got)
	}
}

func TestJoin_PersistFailureChangesNothing(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")
	bob := newSession(t, h, "bob")
	join(t, h, alice, "general")
	drain(t, alice)

	boom := errors.New("disk full")
	ev := encode(MembershipEvent{Type: EventRoomJoined, Room: "general", User: "bob"})
	if err := h.Join(bob, "general", func() error { return boom }, ev, ev); !errors.Is(err, boom) {
		t.Fatalf("Join err = %v", err)
	}

	if got := h.ListOnline("general"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("online = %v", got)
	}
	if n := len(drain(t, alice)) + len(drain(t, bob)); n != 0 {
		t.Fatalf("%d events delivered for a failed join", n)
	}
}

// TestLeave_BroadcastsBeforeRemoval verifies the remaining members see
// room:left and the leaver is gone from presence afterwards.
func TestLeave_BroadcastsBeforeRemoval(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")
	bob := newSession(t, h, "bob")
	join(t, h, alice, "general")
	join(t, h, bob, "general")
	drain(t, alice)
	drain(t, bob)

	persisted := false
	ev := encode(MembershipEvent{Type: EventRoomLeft, Room: "general", User: "bob"})
	if err := h.Leave(bob, "general", func() error { persisted = true; return nil }, ev, ev); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	if !persisted {
		t.Fatal("durable removal not run")
	}
	if got := types(drain(t, alice)); !reflect.DeepEqual(got, []string{EventRoomLeft}) {
		t.Fatalf("alice events = %v", got)
	}
	if got := types(drain(t, bob)); !reflect.DeepEqual(got, []string{EventRoomLeft}) {
		t.Fatalf("bob events = %v", got)
	}
	if got := h.ListOnline("general"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("online = %v", got)
	}
}

func TestPublishRoom_RequiresJoin(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")

	called := false
	err := h.PublishRoom(alice, "general", func() ([]byte, []byte, error) {
		called = true
		return nil, nil, nil
	})
	if !errors.Is(err, ErrNotJoined) {
		t.Fatalf("err = %v, want ErrNotJoined", err)
	}
	if called {
		t.Fatal("build ran for an unjoined room")
	}
}

// TestPublishRoom_SameOrderForEveryMember publishes from several sessions
// concurrently and checks all members observe one identical sequence.
func TestPublishRoom_SameOrderForEveryMember(t *testing.T) {
	h := newTestHub(t, HubOptions{SendBuffer: 4096})
	members := []*Client{
		newSession(t, h, "a"),
		newSession(t, h, "b"),
		newSession(t, h, "c"),
	}
	for _, m := range members {
		join(t, h, m, "r")
	}
	for _, m := range members {
		drain(t, m)
	}

	const perSender = 100
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(sender *Client) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				id := fmt.Sprintf("%s-%d", sender.identity, i)
				err := h.PublishRoom(sender, "r", func() ([]byte, []byte, error) {
					ev := PongEvent{Type: EventMessageNew, Ref: id}
					return encode(ev), encode(ev), nil
				})
				if err != nil {
					t.Errorf("PublishRoom: %v", err)
					return
				}
			}
		}(m)
	}
	wg.Wait()

	var first []string
	for i, m := range members {
		var seq []string
		for _, e := range drain(t, m) {
			seq = append(seq, e["ref"].(string))
		}
		if len(seq) != perSender*len(members) {
			t.Fatalf("member %d got %d events", i, len(seq))
		}
		if i == 0 {
			first = seq
			continue
		}
		if !reflect.DeepEqual(seq, first) {
			t.Fatalf("member %d observed a different order", i)
		}
	}
}

// TestDisconnect_PresenceOfflineAndCleanup verifies disconnect leaves every
// live room, notifies the rest and is idempotent.
func TestDisconnect_PresenceOfflineAndCleanup(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")
	bob := newSession(t, h, "bob")
	for _, room := range []string{"one", "two"} {
		join(t, h, alice, room)
		join(t, h, bob, room)
	}
	drain(t, alice)
	drain(t, bob)

	h.disconnect(bob)
	h.disconnect(bob)

	events := drain(t, alice)
	if len(events) != 2 {
		t.Fatalf("alice events = %v", events)
	}
	rooms := map[string]bool{}
	for _, e := range events {
		if e["type"] != EventPresenceOffline || e["username"] != "bob" {
			t.Fatalf("unexpected event %v", e)
		}
		rooms[e["room"].(string)] = true
	}
	if !rooms["one"] || !rooms["two"] {
		t.Fatalf("presence rooms = %v", rooms)
	}
	for _, room := range []string{"one", "two"} {
		if got := h.ListOnline(room); !reflect.DeepEqual(got, []string{"alice"}) {
			t.Fatalf("online(%s) = %v", room, got)
		}
	}
	if _, ok := <-bob.send; ok {
		t.Fatal("bob's send channel should be closed")
	}
	if h.SendToSession(bob, []byte(`{}`)) {
		t.Fatal("delivery to a closed session succeeded")
	}
	if err := h.Join(bob, "one", nil, nil, nil); !errors.Is(err, errSessionClosed) {
		t.Fatalf("Join on closed session err = %v", err)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d", h.ClientCount())
	}
}

func TestDisconnect_UnboundSessionIsSilent(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")
	anon := newSession(t, h, "")
	join(t, h, alice, "r")
	join(t, h, anon, "r")
	drain(t, alice)

	h.disconnect(anon)
	if got := drain(t, alice); len(got) != 0 {
		t.Fatalf("presence sent for unbound session: %v", got)
	}
}

func TestListOnline_DedupesIdentity(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	a1 := newSession(t, h, "alice")
	a2 := newSession(t, h, "alice")
	join(t, h, a1, "r")
	join(t, h, a2, "r")
	join(t, h, a1, "r")

	if got := h.ListOnline("r"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("online = %v", got)
	}
	if n := len(h.rooms["r"]); n != 2 {
		t.Fatalf("live set has %d sessions, want 2", n)
	}
}

func TestBind_OnlyOnce(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	c := newSession(t, h, "alice")
	if err := h.Bind(c, "bob", "t"); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("err = %v", err)
	}
	if h.Identity(c) != "alice" || h.SessionToken(c) != "token-alice" {
		t.Fatalf("identity changed to %q", h.Identity(c))
	}
}

func TestSendDirect_AllRecipientSessionsAndEcho(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")
	bob1 := newSession(t, h, "bob")
	bob2 := newSession(t, h, "bob")
	carol := newSession(t, h, "carol")

	n, err := h.SendDirect(alice, "bob", func() ([]byte, []byte, error) {
		return []byte(`{"type":"dm:new"}`), []byte(`{"type":"dm:new","ref":"r1"}`), nil
	})
	if err != nil || n != 2 {
		t.Fatalf("SendDirect = %d, %v", n, err)
	}
	if len(drain(t, bob1)) != 1 || len(drain(t, bob2)) != 1 || len(drain(t, carol)) != 0 {
		t.Fatal("wrong recipients")
	}
	if got := drain(t, alice); len(got) != 1 || got[0]["ref"] != "r1" {
		t.Fatalf("echo = %v", got)
	}
}

func TestSendDirect_OfflineRecipientStillEchoes(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alice := newSession(t, h, "alice")

	n, err := h.SendDirect(alice, "ghost", func() ([]byte, []byte, error) {
		return []byte(`{"type":"dm:new"}`), []byte(`{"type":"dm:new"}`), nil
	})
	if err != nil || n != 0 {
		t.Fatalf("SendDirect = %d, %v", n, err)
	}
	if len(drain(t, alice)) != 1 {
		t.Fatal("sender did not get echo")
	}
}

func TestSendToIdentity(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	bob1 := newSession(t, h, "bob")
	bob2 := newSession(t, h, "bob")
	anon := newSession(t, h, "")

	if n := h.SendToIdentity("bob", []byte(`{"type":"x"}`)); n != 2 {
		t.Fatalf("delivered to %d sessions, want 2", n)
	}
	if n := h.SendToIdentity("nobody", []byte(`{"type":"x"}`)); n != 0 {
		t.Fatalf("delivered to %d sessions, want 0", n)
	}
	if len(drain(t, bob1)) != 1 || len(drain(t, bob2)) != 1 || len(drain(t, anon)) != 0 {
		t.Fatal("wrong recipients")
	}

	h.disconnect(bob2)
	if n := h.SendToIdentity("bob", []byte(`{"type":"x"}`)); n != 1 {
		t.Fatalf("delivered to %d sessions after disconnect, want 1", n)
	}
}

// TestDeliver_FullBufferEvictsSession verifies a stuck consumer is removed
// without blocking the broadcaster.
func TestDeliver_FullBufferEvictsSession(t *testing.T) {
	h := newTestHub(t, HubOptions{SendBuffer: 1})
	alice := newSession(t, h, "alice")
	slow := newSession(t, h, "slow")
	join(t, h, alice, "r")
	drain(t, alice)
	join(t, h, slow, "r")
	drain(t, alice)

	dropped := testutil.ToFloat64(deliveriesDropped)

	// slow still holds its join ack, so its single-slot buffer is full.
	h.BroadcastToRoom("r", []byte(`{"type":"x"}`), alice)
	if got := testutil.ToFloat64(deliveriesDropped) - dropped; got != 1 {
		t.Fatalf("dropped deliveries = %v, want 1", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("slow session not evicted; clients = %d", h.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ListOnline("r"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("online = %v", got)
	}
}

// TestProbe_TerminatesUnresponsiveSession runs the liveness sweep by hand.
func TestProbe_TerminatesUnresponsiveSession(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	alive := newSession(t, h, "alive")
	dead := newSession(t, h, "dead")
	join(t, h, alive, "r")
	join(t, h, dead, "r")
	drain(t, alive)
	terminated := testutil.ToFloat64(livenessTerminations)

	h.probe()
	h.markAlive(alive)
	h.probe()

	if got := testutil.ToFloat64(livenessTerminations) - terminated; got != 1 {
		t.Fatalf("liveness terminations = %v, want 1", got)
	}

	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", h.ClientCount())
	}
	events := drain(t, alive)
	if len(events) != 1 || events[0]["type"] != EventPresenceOffline || events[0]["username"] != "dead" {
		t.Fatalf("alive events = %v", events)
	}
	if got := h.ListOnline("r"); !reflect.DeepEqual(got, []string{"alive"}) {
		t.Fatalf("online = %v", got)
	}
}

// TestProbe_RequestsPingWithoutBlocking checks the sweep only signals the
// session's writer and never waits on it.
func TestProbe_RequestsPingWithoutBlocking(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	c := newSession(t, h, "alice")

	h.probe()
	h.markAlive(c)
	h.probe()

	if len(c.pings) != 1 {
		t.Fatalf("pending pings = %d, want 1", len(c.pings))
	}
	if h.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", h.ClientCount())
	}
}

func TestShutdown_NoClients(t *testing.T) {
	h := newTestHub(t, HubOptions{})
	go h.Run()
	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := h.Register(NewClient(nil, h, "late")); !errors.Is(err, errHubClosed) {
		t.Fatalf("Register after shutdown err = %v", err)
	}
}

func TestHistoryLimits_Resolve(t *testing.T) {
	l := HistoryLimits{Default: 100, Max: 1000}
	cases := map[int]int{0: 100, -5: 100, 3: 3, 1000: 1000, 5000: 1000}
	for in, want := range cases {
		if got := l.resolve(in); got != want {
			t.Errorf("resolve(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{ErrNotJoined, CodeNotJoined},
		{fmt.Errorf("%w: room name required", ErrInvalidRequest), CodeInvalidRequest},
		{errors.New("sqlite: disk I/O error"), CodeInternal},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.code {
			t.Errorf("errorCode(%v) = %s, want %s", tc.err, got, tc.code)
		}
	}
	if msg := errorMessage(errors.New("secret detail")); msg != "internal error" {
		t.Errorf("internal detail leaked: %q", msg)
	}
}
