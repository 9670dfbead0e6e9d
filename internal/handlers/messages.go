package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/coordinator"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// MessageHandler serves message lookups that are not scoped to a single room path.
type MessageHandler struct {
	chat *coordinator.Coordinator
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(chat *coordinator.Coordinator) *MessageHandler {
	return &MessageHandler{chat: chat}
}

func (h *MessageHandler) Register(r gin.IRouter) {
	r.GET("/messages/search", h.Search)
	r.PUT("/messages/:message_id", h.Edit)
	r.DELETE("/messages/:message_id", h.Delete)
	r.GET("/messages/:message_id/history", h.History)
	r.GET("/messages/:message_id/reactions", h.Reactions)
	r.POST("/messages/:message_id/reactions", h.React)
	r.GET("/messages/:message_id/receipts", h.Receipts)
}

// Search handles GET /messages/search?q=&room_id=&sender_id=&type=&from=&to=&limit=.
func (h *MessageHandler) Search(c *gin.Context) {
	p := repositories.SearchParams{
		Query: c.Query("q"),
		Type:  models.ContentType(c.Query("type")),
	}
	if p.Type != "" && !p.Type.Valid() {
		badRequest(c, "invalid type")
		return
	}
	for _, raw := range c.QueryArray("room_id") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid room_id")
			return
		}
		p.RoomIDs = append(p.RoomIDs, id)
	}
	if raw := c.Query("sender_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid sender_id")
			return
		}
		p.SenderID = &id
	}
	for name, dst := range map[string]**time.Time{"from": &p.From, "to": &p.To} {
		if raw := c.Query(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				badRequest(c, "invalid "+name)
				return
			}
			*dst = &t
		}
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	p.Limit = int(limit)

	found, err := h.chat.Search(requestContext(c), callerID(c), p)
	if err != nil {
		writeError(c, err)
		return
	}
	if found == nil {
		found = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": found})
}

// Edit handles PUT /messages/:message_id with {"content": {...}}.
func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	var req models.EditMessageData
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.MessageID = messageID

	msg, ok := perform(c, h.chat, models.ActionEditMessage, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Delete handles DELETE /messages/:message_id. The response carries the tombstone.
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	msg, ok := perform(c, h.chat, models.ActionDeleteMessage, models.MessageRef{MessageID: messageID})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// React handles POST /messages/:message_id/reactions with {"emoji": "..."}. Repeating a
// reaction removes it.
func (h *MessageHandler) React(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	var req models.ReactData
	if err := c.ShouldBindJSON(&req); err != nil || req.Emoji == "" {
		badRequest(c, "emoji is required")
		return
	}
	req.MessageID = messageID

	changed, ok := perform(c, h.chat, models.ActionReact, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, changed)
}

func (h *MessageHandler) History(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	history, err := h.chat.EditHistory(requestContext(c), callerID(c), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	if history == nil {
		history = []models.MessageEditHistory{}
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *MessageHandler) Reactions(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	reactions, err := h.chat.Reactions(requestContext(c), callerID(c), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}

func (h *MessageHandler) Receipts(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	receipts, err := h.chat.Receipts(requestContext(c), callerID(c), messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	if receipts == nil {
		receipts = []models.ReadReceipt{}
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}
