// Package chat defines the domain types shared by the chat core: rooms, memberships,
// persisted messages and the enriched view delivered to clients.
package chat

import (
	"encoding/json"
	"time"
)

// MemberID identifies a platform member
type MemberID int64

// GroupID identifies a meetup group
type GroupID int64

// RoomID identifies a chat room
type RoomID int64

// MessageID identifies a persisted chat message. IDs are assigned by the store and
// strictly increase in persistence order.
type MessageID int64

// ChatRoom is the single chat room of a group
type ChatRoom struct {
	ID        RoomID    `json:"id" bson:"_id"`
	GroupID   GroupID   `json:"groupId" bson:"groupId"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// RoomMembership records that a member joined a room
type RoomMembership struct {
	RoomID   RoomID    `json:"chatRoomId" bson:"roomId"`
	MemberID MemberID  `json:"memberId" bson:"memberId"`
	JoinedAt time.Time `json:"joinedAt" bson:"joinedAt"`
}

// ChatMessage is a persisted message. Content is immutable once stored.
type ChatMessage struct {
	ID        MessageID  `json:"id" bson:"_id"`
	RoomID    RoomID     `json:"chatRoomId" bson:"roomId"`
	SenderID  MemberID   `json:"senderId" bson:"senderId"`
	Content   string     `json:"content" bson:"content"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	DeletedAt *time.Time `json:"-" bson:"deletedAt,omitempty"`
}

// IsDeleted reports whether the message has been soft-deleted
func (m *ChatMessage) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Member is the subset of member profile data needed to render a message
type Member struct {
	ID       MemberID
	Nickname string
	ImageURL *string
}

// ChatMessageView is the enriched form of a message returned by history queries and
// carried in broadcast payloads. SenderImage is null when the member has no avatar.
type ChatMessageView struct {
	MessageID   MessageID `json:"messageId"`
	SenderID    MemberID  `json:"senderId"`
	SenderName  string    `json:"senderName"`
	SenderImage *string   `json:"senderImage"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewView builds the view of msg as sent by sender
func NewView(msg *ChatMessage, sender *Member) ChatMessageView {
	view := ChatMessageView{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if sender != nil {
		view.SenderName = sender.Nickname
		view.SenderImage = sender.ImageURL
	}
	return view
}

// MarshalJSON renders CreatedAt as RFC3339 with millisecond precision
func (v ChatMessageView) MarshalJSON() ([]byte, error) {
	type Alias ChatMessageView
	return json.Marshal(&struct {
		Alias
		CreatedAt string `json:"createdAt"`
	}{
		Alias:     Alias(v),
		CreatedAt: v.CreatedAt.UTC().Format(TimestampLayout),
	})
}

// UnmarshalJSON parses the RFC3339 CreatedAt written by MarshalJSON
func (v *ChatMessageView) UnmarshalJSON(data []byte) error {
	type Alias ChatMessageView
	aux := &struct {
		*Alias
		CreatedAt string `json:"createdAt"`
	}{
		Alias: (*Alias)(v),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, aux.CreatedAt)
		if err != nil {
			return err
		}
		v.CreatedAt = t
	}

	return nil
}

// TimestampLayout is the wire format of message timestamps
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrorInfo contains error details carried by ERROR frames and REST error bodies
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"` // milliseconds
}
