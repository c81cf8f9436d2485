package meetupchat

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
	chaterrors "github.com/real-rm/meetupchat/internal/errors"
	"github.com/real-rm/meetupchat/internal/httperrors"
	"github.com/real-rm/meetupchat/internal/member"
	"github.com/real-rm/meetupchat/internal/util"
)

// Success envelope values
const (
	codeOK    = "OK"
	messageOK = "success"
)

// apiResponse is the success envelope of the REST endpoints
type apiResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// historyResponse is one page of room history, newest first
type historyResponse struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Data     []chat.ChatMessageView `json:"data"`
	CursorID *chat.MessageID        `json:"cursorId"`
	HasNext  bool                   `json:"hasNext"`
}

type createRoomRequest struct {
	GroupID int64 `json:"groupId" binding:"required,gt=0"`
}

// roomResponse is a room as seen by the caller
type roomResponse struct {
	*chat.ChatRoom
	Joined bool `json:"joined"`
}

type sendMessageRequest struct {
	ChatRoomID int64  `json:"chatRoomId" binding:"required,gt=0"`
	Content    string `json:"content"`
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, apiResponse{Code: codeOK, Message: messageOK, Data: data})
}

// handleGetMessages serves GET /chat/messages?chatRoomId=&cursorId=&size=
func (s *service) handleGetMessages(c *gin.Context) {
	rawRoomID, err := util.ParsePositiveID(c.Query("chatRoomId"), "chatRoomId")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondBadRequest(c, err.Error())
		return
	}

	var cursor *chat.MessageID
	// No else needed: optional operation (first page has no cursor)
	if raw := c.Query("cursorId"); raw != "" {
		id, err := util.ParsePositiveID(raw, "cursorId")
		if err != nil {
			httperrors.RespondBadRequest(c, err.Error())
			return
		}
		cursor = lo.ToPtr(chat.MessageID(id))
	}

	size := constants.DefaultPageSize
	// No else needed: optional operation (default page size)
	if raw := c.Query("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil {
			httperrors.RespondBadRequest(c, "size must be a number")
			return
		}
	}
	// No else needed: early return pattern (guard clause)
	if err := util.ValidateRange(size, constants.MinPageSize, constants.MaxPageSize, "size"); err != nil {
		httperrors.RespondBadRequest(c, err.Error())
		return
	}

	ctx, cancel := util.NewTimeoutContext(constants.HistoryQueryTimeout)
	defer cancel()

	roomID := chat.RoomID(rawRoomID)
	// No else needed: early return pattern (guard clause)
	if _, err := s.registry.Get(ctx, roomID); err != nil {
		httperrors.RespondError(c, err)
		return
	}

	page, err := s.store.GetMessages(ctx, roomID, cursor, size)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(s.logger, "history", "get messages", err, "room_id", roomID)
		httperrors.RespondError(c, chaterrors.ErrDatabaseError(err))
		return
	}

	views, err := buildViews(ctx, s.members, page.Messages)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(s.logger, "history", "resolve senders", err, "room_id", roomID)
		httperrors.RespondError(c, chaterrors.ErrDatabaseError(err))
		return
	}

	c.JSON(http.StatusOK, historyResponse{
		Code:     codeOK,
		Message:  messageOK,
		Data:     views,
		CursorID: page.NextCursor,
		HasNext:  page.HasNext,
	})
}

// buildViews enriches messages with their senders, looking each sender up once.
// Members that no longer exist render without a name or image.
func buildViews(ctx context.Context, members member.Directory, msgs []*chat.ChatMessage) ([]chat.ChatMessageView, error) {
	senderIDs := lo.Uniq(lo.Map(msgs, func(m *chat.ChatMessage, _ int) chat.MemberID {
		return m.SenderID
	}))

	senders := make(map[chat.MemberID]*chat.Member, len(senderIDs))
	for _, id := range senderIDs {
		sender, err := members.FindMember(ctx, id)
		switch {
		case err == nil:
			senders[id] = sender
		case chaterrors.IsNotFound(err):
			senders[id] = nil
		default:
			return nil, err
		}
	}

	return lo.Map(msgs, func(m *chat.ChatMessage, _ int) chat.ChatMessageView {
		return chat.NewView(m, senders[m.SenderID])
	}), nil
}

// handleSendMessage serves POST /chat/messages through the same ingestor as SEND frames
func (s *service) handleSendMessage(c *gin.Context) {
	memberID, _ := memberFromContext(c)

	var req sendMessageRequest
	// No else needed: early return pattern (guard clause)
	if err := c.ShouldBindJSON(&req); err != nil {
		httperrors.RespondBadRequest(c, "chatRoomId must be a positive number")
		return
	}

	ctx, cancel := util.NewTimeoutContext(constants.MessageAppendTimeout)
	defer cancel()

	result, err := s.ingestor.Send(ctx, chat.RoomID(req.ChatRoomID), memberID, req.Content)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, result.View)
}

// handleCreateRoom serves POST /chat/rooms; creating an existing room returns it
func (s *service) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	// No else needed: early return pattern (guard clause)
	if err := c.ShouldBindJSON(&req); err != nil {
		httperrors.RespondBadRequest(c, "groupId must be a positive number")
		return
	}

	ctx, cancel := util.NewDefaultTimeoutContext()
	defer cancel()

	room, err := s.registry.Create(ctx, chat.GroupID(req.GroupID))
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, room)
}

// handleGetRoom serves GET /chat/rooms?groupId= and tells whether the caller joined
func (s *service) handleGetRoom(c *gin.Context) {
	groupID, err := util.ParsePositiveID(c.Query("groupId"), "groupId")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondBadRequest(c, err.Error())
		return
	}

	ctx, cancel := util.NewDefaultTimeoutContext()
	defer cancel()

	room, err := s.registry.GetByGroup(ctx, chat.GroupID(groupID))
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondError(c, err)
		return
	}

	memberID, _ := memberFromContext(c)
	joined, err := s.registry.IsMember(ctx, room.ID, memberID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, roomResponse{ChatRoom: room, Joined: joined})
}

// handleJoinRoom serves POST /chat/rooms/:groupId/members for the caller
func (s *service) handleJoinRoom(c *gin.Context) {
	memberID, _ := memberFromContext(c)
	groupID, err := util.ParsePositiveID(c.Param("groupId"), "groupId")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondBadRequest(c, err.Error())
		return
	}

	ctx, cancel := util.NewDefaultTimeoutContext()
	defer cancel()

	membership, err := s.registry.Join(ctx, memberID, chat.GroupID(groupID))
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, membership)
}

// handleLeaveRoom serves DELETE /chat/rooms/:groupId/members for the caller
func (s *service) handleLeaveRoom(c *gin.Context) {
	memberID, _ := memberFromContext(c)
	groupID, err := util.ParsePositiveID(c.Param("groupId"), "groupId")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondBadRequest(c, err.Error())
		return
	}

	ctx, cancel := util.NewDefaultTimeoutContext()
	defer cancel()

	// No else needed: early return pattern (guard clause)
	if err := s.registry.Leave(ctx, memberID, chat.GroupID(groupID)); err != nil {
		httperrors.RespondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

// handleHealthCheck is the liveness probe: if we can respond, we're alive
func handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyCheck is the readiness probe. It pings the store and reports the
// live connection counts.
func (s *service) handleReadyCheck(c *gin.Context) {
	ctx, cancel := util.NewTimeoutContext(constants.HealthCheckTimeout)
	defer cancel()

	checks := gin.H{}
	status, statusCode := "ready", http.StatusOK

	// No else needed: optional operation (health check result recording)
	if err := s.backend.Ping(ctx); err != nil {
		// Log detailed error server-side, send generic reason to client
		s.logger.Warn("Store health check failed",
			"store", s.backend.Name(),
			"error", err,
			"component", "health")
		checks["store"] = gin.H{"status": "not ready", "backend": s.backend.Name(), "reason": "Store connectivity check failed"}
		status, statusCode = "not ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = gin.H{"status": "ready", "backend": s.backend.Name()}
	}

	checks["connections"] = gin.H{
		"websocket": s.ws.ConnectionCount(),
		"fallback":  s.fallback.SessionCount(),
		"sessions":  s.sessions.ActiveCount(),
		"topics":    len(s.broker.Topics()),
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
