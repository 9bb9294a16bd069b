// Package conversation holds the ordered list of chat turns exchanged between a student and the tutor model.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of a turn
type Role string

const (
	RoleNone  Role = ""
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Image is an attached picture, kept as the raw encoded bytes
type Image struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// SupportedImageType reports whether pictures of the given MIME type may be attached to a question. Only PNG and JPEG
// are accepted.
func SupportedImageType(mimeType string) bool {
	switch mimeType {
	case "image/png", "image/jpeg":
		return true
	default:
		return false
	}
}

// Content is the payload of a turn: text, optionally accompanied by an image
type Content struct {
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"` // May be nil
}

// Turn is a single message in the conversation
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUserTurn creates a user turn with optional image
func NewUserTurn(text string, image *Image) Turn {
	return newTurn(RoleUser, Content{Text: text, Image: image})
}

// NewModelTurn creates a model turn holding the assembled response text
func NewModelTurn(text string) Turn {
	return newTurn(RoleModel, Content{Text: text})
}

func newTurn(role Role, content Content) Turn {
	return Turn{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// Conversation is an ordered, append-only sequence of turns. It is emptied only by Clear.
//
// A Conversation is not safe for concurrent use; the owning session serializes access.
type Conversation struct {
	turns []Turn
}

// New creates an empty conversation
func New() *Conversation {
	return &Conversation{}
}

// Append adds a turn to the end of the conversation. No validation is performed.
func (c *Conversation) Append(turn Turn) {
	c.turns = append(c.turns, turn)
}

// Clear removes every turn
func (c *Conversation) Clear() {
	c.turns = nil
}

// LastRole returns the role of the final turn, or RoleNone if the conversation is empty
func (c *Conversation) LastRole() Role {
	if len(c.turns) == 0 {
		return RoleNone
	}
	return c.turns[len(c.turns)-1].Role
}

// Last returns the final turn, if any
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// Len returns the number of turns
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Turns returns a copy of all turns in order
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// History returns a copy of every turn except the newest one, i.e. the context that precedes the live message
func (c *Conversation) History() []Turn {
	if len(c.turns) == 0 {
		return nil
	}
	out := make([]Turn, len(c.turns)-1)
	copy(out, c.turns[:len(c.turns)-1])
	return out
}
