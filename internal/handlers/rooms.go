package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/coordinator"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// RoomHandler manages rooms and their memberships.
type RoomHandler struct {
	chat *coordinator.Coordinator
}

// NewRoomHandler constructs a RoomHandler.
func NewRoomHandler(chat *coordinator.Coordinator) *RoomHandler {
	return &RoomHandler{chat: chat}
}

// Register mounts the room routes on an authenticated group.
func (h *RoomHandler) Register(r gin.IRouter) {
	r.POST("/rooms", h.CreateRoom)
	r.GET("/rooms", h.ListRooms)
	r.GET("/rooms/:room_id", h.GetRoom)
	r.PUT("/rooms/:room_id", h.UpdateRoom)
	r.DELETE("/rooms/:room_id", h.DeleteRoom)
	r.PUT("/rooms/:room_id/mute", h.Mute)
	r.GET("/rooms/:room_id/analytics", h.Analytics)
	r.POST("/rooms/:room_id/members", h.AddMember)
	r.DELETE("/rooms/:room_id/members/:user_id", h.RemoveMember)
	r.PUT("/rooms/:room_id/members/:user_id/role", h.UpdateRole)
	r.PUT("/rooms/:room_id/members/:user_id/permissions", h.UpdatePermissions)
	r.GET("/rooms/:room_id/messages", h.ListMessages)
	r.POST("/rooms/:room_id/messages", h.SendMessage)
	r.GET("/rooms/:room_id/pins", h.ListPins)
}

type createRoomRequest struct {
	Kind     models.RoomKind     `json:"kind" binding:"required"`
	Name     string              `json:"name"`
	Settings models.RoomSettings `json:"settings"`
	Members  []models.Identity   `json:"members"`
}

// CreateRoom handles POST /rooms. The caller becomes the owner.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.Kind.Valid() {
		badRequest(c, "kind must be direct or group")
		return
	}

	room, members, err := h.chat.CreateRoom(requestContext(c), repositories.CreateRoomParams{
		Kind:     req.Kind,
		Name:     req.Name,
		Settings: req.Settings,
		Creator:  models.Identity{UserID: callerID(c), DisplayName: c.GetString("displayName")},
		Members:  req.Members,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room, "members": members})
}

// ListRooms returns the rooms the caller belongs to.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.chat.Rooms(requestContext(c), callerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if rooms == nil {
		rooms = []coordinator.RoomSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	details, err := h.chat.Room(requestContext(c), callerID(c), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// UpdateRoom handles PUT /rooms/:room_id. Only the fields present in the body change.
func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	var req repositories.RoomUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room, err := h.chat.UpdateRoom(requestContext(c), callerID(c), roomID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	if err := h.chat.DeleteRoom(requestContext(c), callerID(c), roomID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Mute handles PUT /rooms/:room_id/mute with {"muted": bool}.
func (h *RoomHandler) Mute(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		badRequest(c, "muted is required")
		return
	}

	m, err := h.chat.SetMuted(requestContext(c), callerID(c), roomID, *req.Muted)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

// Analytics handles GET /rooms/:room_id/analytics?days=.
func (h *RoomHandler) Analytics(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	days, ok := queryInt64(c, "days")
	if !ok {
		return
	}
	stats, err := h.chat.Analytics(requestContext(c), callerID(c), roomID, int(days))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analytics": stats})
}

// AddMember handles POST /rooms/:room_id/members.
func (h *RoomHandler) AddMember(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	var req models.Identity
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		badRequest(c, "user_id is required")
		return
	}

	m, err := h.chat.AddMember(requestContext(c), callerID(c), roomID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"membership": m})
}

// RemoveMember handles DELETE /rooms/:room_id/members/:user_id. ?block=true blocks instead.
// Removing yourself leaves the room.
func (h *RoomHandler) RemoveMember(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	m, err := h.chat.RemoveMember(requestContext(c), callerID(c), roomID, userID, c.Query("block") == "true")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

func (h *RoomHandler) UpdateRole(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
		badRequest(c, "role must be owner, admin or member")
		return
	}

	m, err := h.chat.UpdateRole(requestContext(c), callerID(c), roomID, userID, req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

func (h *RoomHandler) UpdatePermissions(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req struct {
		Permissions models.PermissionSet `json:"permissions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	m, err := h.chat.UpdatePermissions(requestContext(c), callerID(c), roomID, userID, req.Permissions)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}

// ListMessages handles GET /rooms/:room_id/messages?before_id=&limit=.
func (h *RoomHandler) ListMessages(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	beforeID, ok := queryInt64(c, "before_id")
	if !ok {
		return
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}

	page, err := h.chat.Messages(requestContext(c), callerID(c), roomID, beforeID, int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	if page == nil {
		page = []models.Message{}
	}
	resp := gin.H{"messages": page}
	if n := len(page); n > 0 {
		resp["next_before_id"] = page[n-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

// SendMessage handles POST /rooms/:room_id/messages. The body is the send_message payload
// without room_id.
func (h *RoomHandler) SendMessage(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	var req models.SendMessageData
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.RoomID = roomID

	msg, ok := perform(c, h.chat, models.ActionSendMessage, req)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *RoomHandler) ListPins(c *gin.Context) {
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}
	pins, err := h.chat.Pinned(requestContext(c), callerID(c), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	if pins == nil {
		pins = []models.PinnedMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"pins": pins})
}
