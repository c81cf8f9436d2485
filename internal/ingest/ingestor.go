// Package ingest accepts chat messages from either transport, persists them and
// hands them to the broker for live fan-out.
package ingest

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/broker"
	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
	chaterrors "github.com/real-rm/meetupchat/internal/errors"
	"github.com/real-rm/meetupchat/internal/member"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/storage"
	"github.com/real-rm/meetupchat/internal/util"
)

// RoomResolver resolves a room by id
type RoomResolver interface {
	Get(ctx context.Context, roomID chat.RoomID) (*chat.ChatRoom, error)
}

// Emitter queues a broadcast event without blocking
type Emitter interface {
	Emit(ev broker.Event) bool
}

// Request is one message submitted by an authenticated member
type Request struct {
	RoomID   chat.RoomID   `validate:"gt=0"`
	SenderID chat.MemberID `validate:"gt=0"`
	Content  string        `validate:"required"`
}

// Result is the persisted message and the view that was broadcast
type Result struct {
	Message *chat.ChatMessage
	View    chat.ChatMessageView
	// Emitted is false when the broadcast queue refused the event
	Emitted bool
}

// Ingestor validates, persists, enriches and emits chat messages
type Ingestor struct {
	rooms            RoomResolver
	members          member.Directory
	store            *storage.MessageStore
	emitter          Emitter
	validate         *validator.Validate
	maxContentLength int
	logger           *golog.Logger
}

// New creates an ingestor. maxContentLength <= 0 selects the default.
func New(rooms RoomResolver, members member.Directory, store *storage.MessageStore, emitter Emitter, maxContentLength int, logger *golog.Logger) *Ingestor {
	// No else needed: optional operation (apply default)
	if maxContentLength <= 0 {
		maxContentLength = constants.DefaultMaxContentLength
	}
	return &Ingestor{
		rooms:            rooms,
		members:          members,
		store:            store,
		emitter:          emitter,
		validate:         validator.New(),
		maxContentLength: maxContentLength,
		logger:           logger.WithGroup("ingest"),
	}
}

// Send persists content as a message of senderID in roomID and emits it to the
// room topic. The id and timestamp are assigned by the server. A failed emission
// is logged and counted but does not fail the send.
func (i *Ingestor) Send(ctx context.Context, roomID chat.RoomID, senderID chat.MemberID, content string) (*Result, error) {
	req := Request{RoomID: roomID, SenderID: senderID, Content: content}
	if err := i.check(req); err != nil {
		return nil, i.fail(err)
	}

	// No else needed: early return pattern (guard clause)
	if _, err := i.rooms.Get(ctx, roomID); err != nil {
		return nil, i.fail(err)
	}

	sender, err := i.members.FindMember(ctx, senderID)
	if err != nil {
		// No else needed: early return pattern (guard clause)
		if chaterrors.IsNotFound(err) {
			return nil, i.fail(err)
		}
		util.LogError(i.logger, "ingest", "resolve sender", err, "member_id", senderID)
		return nil, i.fail(chaterrors.ErrDatabaseError(err))
	}

	msg, err := i.store.Append(ctx, roomID, senderID, content)
	if err != nil {
		util.LogError(i.logger, "ingest", "persist message", err,
			"room_id", roomID,
			"sender_id", senderID,
			"connection_id", util.ConnectionIDFromContext(ctx))
		return nil, i.fail(chaterrors.ErrDatabaseError(err))
	}
	metrics.MessagesPersisted.Inc()

	view := chat.NewView(msg, sender)
	result := &Result{Message: msg, View: view}
	result.Emitted = i.emit(roomID, view)
	return result, nil
}

func (i *Ingestor) check(req Request) error {
	if err := i.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		// No else needed: early return pattern (guard clause)
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			// No else needed: early return pattern (guard clause)
			if fe.Tag() == "required" {
				return chaterrors.ErrMissingField(fieldName(fe.Field()))
			}
			return chaterrors.ErrInvalidMessageFormat(fieldName(fe.Field())+" must be positive", err)
		}
		return chaterrors.ErrInvalidMessageFormat("invalid request", err)
	}

	if err := chat.ValidateContent(req.Content, i.maxContentLength); err != nil {
		var ve *chat.ValidationError
		// No else needed: early return pattern (guard clause)
		if errors.As(err, &ve) {
			return chaterrors.ErrInvalidMessageFormat(ve.Message, err)
		}
		return chaterrors.ErrInvalidMessageFormat("invalid content", err)
	}
	return nil
}

func fieldName(field string) string {
	switch field {
	case "RoomID":
		return "chatRoomId"
	case "SenderID":
		return "senderId"
	case "Content":
		return "content"
	default:
		return field
	}
}

// emit hands the view to the broker; it never blocks
func (i *Ingestor) emit(roomID chat.RoomID, view chat.ChatMessageView) bool {
	// No else needed: early return pattern (guard clause)
	if i.emitter == nil {
		return false
	}
	payload, err := util.MarshalJSON(view)
	if err != nil {
		util.LogError(i.logger, "ingest", "encode broadcast payload", err, "message_id", view.MessageID)
		return false
	}
	ev := broker.Event{
		Topic:     broker.RoomTopic(roomID),
		MessageID: strconv.FormatInt(int64(view.MessageID), 10),
		Payload:   payload,
	}
	// No else needed: early return pattern (guard clause)
	if !i.emitter.Emit(ev) {
		i.logger.Warn("Broadcast event not queued", "room_id", roomID, "message_id", view.MessageID)
		return false
	}
	return true
}

// fail counts the error by code and returns it as a ChatError
func (i *Ingestor) fail(err error) error {
	chatErr := chaterrors.AsChatError(err)
	metrics.MessageErrors.WithLabelValues(string(chatErr.Code)).Inc()
	return chatErr
}
