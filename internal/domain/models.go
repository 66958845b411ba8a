// Package domain defines the persistent models for users, rooms, room
// membership, and messages. These types are mapped with GORM and are also
// the shapes sent over the wire in history replies.
package domain

// Metadata is opaque key-value data attached to rooms and messages.
type Metadata map[string]any

// User is a registered identity. Username is immutable and the primary key.
type User struct {
	Username  string `json:"username"   gorm:"type:varchar(64);primaryKey"`
	Password  string `json:"-"          gorm:"not null"`
	Avatar    string `json:"avatar"     gorm:"not null;default:''"`
	About     string `json:"about"      gorm:"not null;default:''"`
	CreatedAt int64  `json:"created_at" gorm:"autoCreateTime:milli"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Profile is the public view of a User.
type Profile struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	About    string `json:"about"`
}

// Profile returns the public fields of u.
func (u User) Profile() Profile {
	return Profile{Username: u.Username, Avatar: u.Avatar, About: u.About}
}

// Room is a named durable channel.
type Room struct {
	Name        string   `json:"name"        gorm:"type:varchar(128);primaryKey"`
	Description string   `json:"description" gorm:"not null;default:''"`
	Metadata    Metadata `json:"metadata"    gorm:"serializer:json"`
	CreatedBy   string   `json:"created_by"  gorm:"type:varchar(64);not null"`
	CreatedAt   int64    `json:"created_at"  gorm:"autoCreateTime:milli"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// RoomMember records durable membership of a user in a room.
type RoomMember struct {
	Room     string `gorm:"type:varchar(128);primaryKey"`
	Username string `gorm:"type:varchar(64);primaryKey;index"`
	JoinedAt int64  `gorm:"autoCreateTime:milli"`
}

// TableName returns the database table name for RoomMember.
func (RoomMember) TableName() string { return "room_members" }

// Message is a room message. Immutable once persisted.
type Message struct {
	ID        string   `json:"id"        gorm:"type:char(36);primaryKey"`
	Room      string   `json:"room"      gorm:"type:varchar(128);not null;index:idx_messages_room_ts,priority:1"`
	Sender    string   `json:"from"      gorm:"type:varchar(64);not null"`
	Body      string   `json:"message"   gorm:"column:message;type:text;not null"`
	Metadata  Metadata `json:"metadata"  gorm:"serializer:json"`
	Timestamp int64    `json:"timestamp" gorm:"not null;index:idx_messages_room_ts,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// DirectMessage is a point-to-point message between two users.
type DirectMessage struct {
	ID        string   `json:"id"        gorm:"type:char(36);primaryKey"`
	Sender    string   `json:"from"      gorm:"type:varchar(64);not null;index:idx_dm_pair_ts,priority:1"`
	Recipient string   `json:"to"        gorm:"type:varchar(64);not null;index:idx_dm_pair_ts,priority:2"`
	Body      string   `json:"message"   gorm:"column:message;type:text;not null"`
	Metadata  Metadata `json:"metadata"  gorm:"serializer:json"`
	Timestamp int64    `json:"timestamp" gorm:"not null;index:idx_dm_pair_ts,priority:3"`
}

// TableName returns the database table name for DirectMessage.
func (DirectMessage) TableName() string { return "direct_messages" }

// All lists every model, in migration order.
func All() []any {
	return []any{&User{}, &Room{}, &RoomMember{}, &Message{}, &DirectMessage{}}
}
