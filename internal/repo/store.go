// Package repo implements the persistence gateway for users, rooms, room
// membership, and message history, backed by GORM.
//
// Error semantics:
//   - Missing users and rooms surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - Primary-key collisions on create surface as ErrAlreadyExists.
//   - Any other DB error is propagated as-is.
//
// History reads return at most limit rows, the most recent ones, in
// chronological order. Rows with equal timestamps keep insertion order.
package repo

import (
	"context"
	"errors"
	"slices"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/agentchat/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// Store is the persistence gateway consumed by the session layer.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*domain.User, error)
	GetUser(ctx context.Context, username string) (*domain.User, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	UpdateProfile(ctx context.Context, username string, avatar, about *string) (*domain.User, error)

	CreateRoom(ctx context.Context, name, description string, metadata domain.Metadata, createdBy string) (*domain.Room, error)
	GetRoom(ctx context.Context, name string) (*domain.Room, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	AddMember(ctx context.Context, room, username string) error
	RemoveMember(ctx context.Context, room, username string) error
	ListMembers(ctx context.Context, room string) ([]string, error)

	SaveMessage(ctx context.Context, m *domain.Message) error
	GetMessages(ctx context.Context, room string, limit int) ([]domain.Message, error)
	SaveDirectMessage(ctx context.Context, m *domain.DirectMessage) error
	GetDirectMessages(ctx context.Context, a, b string, limit int) ([]domain.DirectMessage, error)
	ListConversationPartners(ctx context.Context, username string) ([]string, error)
}

// GormStore implements Store on a *gorm.DB.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. The schema must already be migrated.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a user. A taken username yields ErrAlreadyExists.
func (s *GormStore) CreateUser(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	u := &domain.User{Username: username, Password: passwordHash}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// GetUser fetches a user by username.
func (s *GormStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePassword replaces the stored hash. A missing user yields ErrNotFound.
func (s *GormStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res := s.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("username = ?", username).
		Update("password", passwordHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateProfile sets the non-nil profile fields and returns the updated user.
func (s *GormStore) UpdateProfile(ctx context.Context, username string, avatar, about *string) (*domain.User, error) {
	updates := map[string]any{}
	if avatar != nil {
		updates["avatar"] = *avatar
	}
	if about != nil {
		updates["about"] = *about
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&domain.User{}).Where("username = ?", username).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
	}
	return s.GetUser(ctx, username)
}

// CreateRoom inserts a room. A taken name yields ErrAlreadyExists.
func (s *GormStore) CreateRoom(ctx context.Context, name, description string, metadata domain.Metadata, createdBy string) (*domain.Room, error) {
	if metadata == nil {
		metadata = domain.Metadata{}
	}
	r := &domain.Room{Name: name, Description: description, Metadata: metadata, CreatedBy: createdBy}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, translate(err)
	}
	return r, nil
}

// GetRoom fetches a room by name.
func (s *GormStore) GetRoom(ctx context.Context, name string) (*domain.Room, error) {
	var r domain.Room
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRooms returns every room ordered by creation time.
func (s *GormStore) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var out []domain.Room
	err := s.db.WithContext(ctx).Order("created_at ASC, name ASC").Find(&out).Error
	return out, err
}

// AddMember records durable membership; repeated calls are no-ops.
func (s *GormStore) AddMember(ctx context.Context, room, username string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.RoomMember{Room: room, Username: username}).Error
}

// RemoveMember deletes durable membership if present.
func (s *GormStore) RemoveMember(ctx context.Context, room, username string) error {
	return s.db.WithContext(ctx).
		Where("room = ? AND username = ?", room, username).
		Delete(&domain.RoomMember{}).Error
}

// ListMembers returns the durable members of room ordered by username.
func (s *GormStore) ListMembers(ctx context.Context, room string) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).
		Model(&domain.RoomMember{}).
		Where("room = ?", room).
		Order("username ASC").
		Pluck("username", &out).Error
	return out, err
}

// SaveMessage appends a room message.
func (s *GormStore) SaveMessage(ctx context.Context, m *domain.Message) error {
	if m.Metadata == nil {
		m.Metadata = domain.Metadata{}
	}
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

// GetMessages returns the latest limit messages of room in chronological order.
func (s *GormStore) GetMessages(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("timestamp DESC, rowid DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// SaveDirectMessage appends a direct message.
func (s *GormStore) SaveDirectMessage(ctx context.Context, m *domain.DirectMessage) error {
	if m.Metadata == nil {
		m.Metadata = domain.Metadata{}
	}
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

// GetDirectMessages returns the latest limit messages exchanged between a and
// b (either direction) in chronological order.
func (s *GormStore) GetDirectMessages(ctx context.Context, a, b string, limit int) ([]domain.DirectMessage, error) {
	var out []domain.DirectMessage
	err := s.db.WithContext(ctx).
		Where("(sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)", a, b, b, a).
		Order("timestamp DESC, rowid DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// ListConversationPartners returns every user that has exchanged a direct
// message with username, sorted.
func (s *GormStore) ListConversationPartners(ctx context.Context, username string) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT CASE WHEN sender = ? THEN recipient ELSE sender END AS other
		FROM direct_messages
		WHERE sender = ? OR recipient = ?
		ORDER BY other`, username, username, username).
		Scan(&out).Error
	return out, err
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY must be unique") {
		return ErrAlreadyExists
	}
	return err
}
