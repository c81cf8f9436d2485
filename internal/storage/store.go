package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
)

// Page is one cursor page of room history, newest first
type Page struct {
	Messages []*chat.ChatMessage
	// NextCursor is the id of the last message of the page, nil for an empty page.
	// Passing it back includes that message again at the top of the next page.
	NextCursor *chat.MessageID
	HasNext    bool
}

// MessageStore appends messages and serves cursor pages of room history.
// Appends and reads are independent; no transaction spans them.
type MessageStore struct {
	backend Backend
	logger  *golog.Logger
}

// NewMessageStore creates a message store over backend
func NewMessageStore(backend Backend, logger *golog.Logger) *MessageStore {
	return &MessageStore{
		backend: backend,
		logger:  logger.WithGroup("message-store"),
	}
}

// Append persists a new message with a server-assigned id and timestamp
func (s *MessageStore) Append(ctx context.Context, roomID chat.RoomID, senderID chat.MemberID, content string) (*chat.ChatMessage, error) {
	// No else needed: early return pattern (guard clause)
	if roomID <= 0 || senderID <= 0 {
		return nil, ErrInvalidID
	}
	// No else needed: early return pattern (guard clause)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}

	msg := &chat.ChatMessage{
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := s.backend.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Debug("Message appended",
		"room_id", roomID,
		"message_id", msg.ID,
		"sender_id", senderID)
	return msg, nil
}

// GetMessages returns the page of roomID starting at cursorID (inclusive), or at
// the newest message when cursorID is nil. One extra row is fetched to decide
// HasNext. pageSize is clamped to [MinPageSize, MaxPageSize] so an inclusive
// cursor always advances; zero selects DefaultPageSize.
func (s *MessageStore) GetMessages(ctx context.Context, roomID chat.RoomID, cursorID *chat.MessageID, pageSize int) (*Page, error) {
	// No else needed: early return pattern (guard clause)
	if roomID <= 0 {
		return nil, ErrInvalidID
	}

	pageSize = normalizePageSize(pageSize)

	rows, err := s.backend.FindMessages(ctx, roomID, cursorID, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	page := &Page{Messages: rows}
	// No else needed: optional operation (trim the look-ahead row)
	if len(rows) > pageSize {
		page.HasNext = true
		page.Messages = rows[:pageSize]
	}
	// No else needed: optional operation (empty pages carry no cursor)
	if len(page.Messages) > 0 {
		last := page.Messages[len(page.Messages)-1].ID
		page.NextCursor = &last
	}

	return page, nil
}

// SoftDelete hides a message from history while keeping its id reserved
func (s *MessageStore) SoftDelete(ctx context.Context, roomID chat.RoomID, messageID chat.MessageID) error {
	// No else needed: early return pattern (guard clause)
	if roomID <= 0 || messageID <= 0 {
		return ErrInvalidID
	}
	if err := s.backend.SoftDeleteMessage(ctx, roomID, messageID, time.Now()); err != nil {
		return err
	}
	s.logger.Info("Message soft-deleted", "room_id", roomID, "message_id", messageID)
	return nil
}

func normalizePageSize(pageSize int) int {
	switch {
	case pageSize == 0:
		return constants.DefaultPageSize
	case pageSize < constants.MinPageSize:
		return constants.MinPageSize
	case pageSize > constants.MaxPageSize:
		return constants.MaxPageSize
	default:
		return pageSize
	}
}
