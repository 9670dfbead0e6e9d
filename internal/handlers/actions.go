package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/coordinator"
	"chat-engine/internal/models"
)

// perform runs a message action for the caller the same way a socket frame would be run.
// It writes the error response itself and reports false when the action failed.
func perform(c *gin.Context, chat *coordinator.Coordinator, typ models.ActionType, data any) (any, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	caller := models.Identity{UserID: callerID(c), DisplayName: c.GetString("displayName")}
	result, err := chat.Perform(requestContext(c), caller, models.Action{Type: typ, Data: raw})
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return result, true
}
