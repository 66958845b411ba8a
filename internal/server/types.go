package server

import (
	"strings"

	"github.com/Tyrowin/agentchat/internal/command"
	"github.com/Tyrowin/agentchat/internal/domain"
)

// Frame is an inbound client frame. Type is "family:action"; the remaining
// fields are family specific and optional.
type Frame struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`

	Username    string  `json:"username,omitempty"`
	Password    string  `json:"password,omitempty"`
	Token       string  `json:"token,omitempty"`
	OldPassword string  `json:"oldPassword,omitempty"`
	NewPassword string  `json:"newPassword,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
	About       *string `json:"about,omitempty"`

	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	Room        string          `json:"room,omitempty"`
	Limit       int             `json:"limit,omitempty"`

	Message string `json:"message,omitempty"`
	To      string `json:"to,omitempty"`
	With    string `json:"with,omitempty"`

	Command string `json:"command,omitempty"`
	Args    string `json:"args,omitempty"`
}

// family splits Type into family and action. A bare type such as "ping" has
// an empty action.
func (f Frame) family() (string, string) {
	family, action, _ := strings.Cut(f.Type, ":")
	return family, action
}

// Event types sent by the server.
const (
	EventAuthSuccess        = "auth:success"
	EventAuthProfileUpdated = "auth:profile_updated"
	EventAuthError          = "auth:error"
	EventRoomCreated        = "room:created"
	EventRoomList           = "room:list"
	EventRoomJoined         = "room:joined"
	EventRoomLeft           = "room:left"
	EventRoomUsers          = "room:users"
	EventRoomHistory        = "room:history"
	EventRoomError          = "room:error"
	EventMessageNew         = "message:new"
	EventDMNew              = "dm:new"
	EventDMHistory          = "dm:history"
	EventDMList             = "dm:list"
	EventCommandResult      = "command:result"
	EventCommandList        = "command:list"
	EventCommandError       = "command:error"
	EventPresenceOffline    = "presence:offline"
	EventSystemError        = "system:error"
	EventPong               = "pong"
)

type AuthSuccessEvent struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Token   string          `json:"token,omitempty"`
	User    *domain.Profile `json:"user,omitempty"`
	Message string          `json:"message,omitempty"`
}

type ProfileUpdatedEvent struct {
	Type string         `json:"type"`
	Ref  string         `json:"ref,omitempty"`
	User domain.Profile `json:"user"`
}

type RoomCreatedEvent struct {
	Type string       `json:"type"`
	Ref  string       `json:"ref,omitempty"`
	Room *domain.Room `json:"room"`
}

// RoomSummary is one entry of a room:list reply. UserCount is live presence.
type RoomSummary struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Metadata    domain.Metadata `json:"metadata"`
	UserCount   int             `json:"userCount"`
}

type RoomListEvent struct {
	Type  string        `json:"type"`
	Ref   string        `json:"ref,omitempty"`
	Rooms []RoomSummary `json:"rooms"`
}

// MembershipEvent is room:joined or room:left.
type MembershipEvent struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	Room string `json:"room"`
	User string `json:"user"`
}

type OnlineUser struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Online   bool   `json:"online"`
}

type RoomUsersEvent struct {
	Type  string       `json:"type"`
	Ref   string       `json:"ref,omitempty"`
	Room  string       `json:"room"`
	Users []OnlineUser `json:"users"`
}

type RoomHistoryEvent struct {
	Type     string           `json:"type"`
	Ref      string           `json:"ref,omitempty"`
	Room     string           `json:"room"`
	Messages []domain.Message `json:"messages"`
}

// MessageEvent is message:new; the message fields are inlined.
type MessageEvent struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	domain.Message
}

// DirectMessageEvent is dm:new; the message fields are inlined.
type DirectMessageEvent struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	domain.DirectMessage
}

type DMHistoryEvent struct {
	Type     string                 `json:"type"`
	Ref      string                 `json:"ref,omitempty"`
	With     string                 `json:"with"`
	Messages []domain.DirectMessage `json:"messages"`
}

type DMListEvent struct {
	Type          string   `json:"type"`
	Ref           string   `json:"ref,omitempty"`
	Conversations []string `json:"conversations"`
}

type CommandResultEvent struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Room    string `json:"room"`
	Command string `json:"command"`
	Result  string `json:"result"`
}

type CommandListEvent struct {
	Type     string         `json:"type"`
	Ref      string         `json:"ref,omitempty"`
	Commands []command.Info `json:"commands"`
}

type PresenceEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

// ErrorEvent is any *:error reply. Room and Command correlate the failure to
// the attempted action where the family has one.
type ErrorEvent struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
	Command string `json:"command,omitempty"`
}

type PongEvent struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
