package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/coordinator"
)

type PresenceHandler struct {
	chat *coordinator.Coordinator
}

func NewPresenceHandler(chat *coordinator.Coordinator) *PresenceHandler {
	return &PresenceHandler{chat: chat}
}

func (h *PresenceHandler) Register(r gin.IRouter) {
	r.GET("/presence/:user_id", h.Get)
	r.PUT("/presence", h.SetStatus)
}

// SetStatus handles PUT /presence with {"status_message": "..."}. An empty message clears it.
func (h *PresenceHandler) SetStatus(c *gin.Context) {
	var req struct {
		StatusMessage string `json:"status_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.chat.SetStatus(requestContext(c), callerID(c), req.StatusMessage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Get handles GET /presence/:user_id.
func (h *PresenceHandler) Get(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	p, err := h.chat.Presence(requestContext(c), callerID(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
