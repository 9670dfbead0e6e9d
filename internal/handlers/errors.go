package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/chaterr"
)

var kindStatus = map[chaterr.Kind]int{
	chaterr.KindForbidden:          http.StatusForbidden,
	chaterr.KindNotFound:           http.StatusNotFound,
	chaterr.KindInvalidReference:   http.StatusUnprocessableEntity,
	chaterr.KindAlreadyDeleted:     http.StatusConflict,
	chaterr.KindInvariantViolation: http.StatusConflict,
	chaterr.KindRateLimited:        http.StatusTooManyRequests,
	chaterr.KindInvalidAction:      http.StatusBadRequest,
}

func writeError(c *gin.Context, err error) {
	kind := chaterr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
		log.Printf("request failed method=%s path=%s request_id=%s err=%v", c.Request.Method, c.FullPath(), requestIDFromContext(c), err)
	}
	c.JSON(status, gin.H{"error": chaterr.Reason(err), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": chaterr.KindInvalidAction})
}

// pathID parses a positive id path parameter, answering 400 when it is not one.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
