package server

import (
	"errors"

	"github.com/Tyrowin/agentchat/internal/auth"
	"github.com/Tyrowin/agentchat/internal/command"
)

// Wire error codes.
const (
	CodeUnauthenticated      = "Unauthenticated"
	CodeAlreadyAuthenticated = "AlreadyAuthenticated"
	CodeInvalidCredentials   = "InvalidCredentials"
	CodeInvalidToken         = "InvalidToken"
	CodeAlreadyExists        = "AlreadyExists"
	CodeReserved             = "Reserved"
	CodeIncorrectPassword    = "IncorrectPassword"
	CodeRoomNotFound         = "RoomNotFound"
	CodeRoomExists           = "RoomExists"
	CodeNotJoined            = "NotJoined"
	CodeRecipientNotFound    = "RecipientNotFound"
	CodeUnknownCommand       = "UnknownCommand"
	CodeMalformedFrame       = "MalformedFrame"
	CodeInvalidRequest       = "InvalidRequest"
	CodeInternal             = "Internal"
)

var (
	ErrUnauthenticated      = errors.New("not authenticated")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrReservedUsername     = errors.New("username is reserved")
	ErrIncorrectPassword    = errors.New("incorrect current password")
	ErrRoomNotFound         = errors.New("room does not exist")
	ErrRoomExists           = errors.New("room already exists")
	ErrNotJoined            = errors.New("you have not joined this room")
	ErrRecipientNotFound    = errors.New("user not found")
	ErrMalformedFrame       = errors.New("invalid message")
	ErrInvalidRequest       = errors.New("invalid request")

	// errSessionClosed is returned by hub operations on a session that has
	// already been torn down. It is never sent to a client.
	errSessionClosed = errors.New("session closed")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrAlreadyAuthenticated, CodeAlreadyAuthenticated},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{auth.ErrInvalidToken, CodeInvalidToken},
	{ErrUsernameTaken, CodeAlreadyExists},
	{ErrReservedUsername, CodeReserved},
	{ErrIncorrectPassword, CodeIncorrectPassword},
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrRoomExists, CodeRoomExists},
	{ErrNotJoined, CodeNotJoined},
	{ErrRecipientNotFound, CodeRecipientNotFound},
	{command.ErrUnknownCommand, CodeUnknownCommand},
	{ErrMalformedFrame, CodeMalformedFrame},
	{ErrInvalidRequest, CodeInvalidRequest},
}

// errorCode maps err to its wire code. Anything unrecognized is Internal.
func errorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// errorMessage returns the client-facing text for err. Internal errors are
// not described to the client.
func errorMessage(err error) string {
	if errorCode(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
