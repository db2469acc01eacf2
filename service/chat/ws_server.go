package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ChatHub/tools/errs"
	"ChatHub/tools/ids"
)

// HandleWS upgrades GET /ws/:conversation_id/:user_id?token=... and runs the
// session on the request goroutine until it ends.
func (s *Server) HandleWS(c *gin.Context) {
	roomID, userID, ok := pathIDs(c)
	if !ok {
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newWSConn(ids.GenerateString(), ws, s.opts.Conn, s.log)
	if err := s.Serve(roomID, userID, conn, c.Query("token")); err != nil {
		s.log.Debug("session ended with error",
			zap.Int64("room", roomID), zap.Int64("user", userID), zap.Error(err))
	}
}

// HandleOnline GET /rooms/:conversation_id/online
func (s *Server) HandleOnline(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		badRequest(c, "conversation_id", c.Param("conversation_id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": roomID,
		"users":           s.reg.OnlineUsers(roomID),
	})
}

// HandleStats GET /stats
func (s *Server) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Stats())
}

func pathIDs(c *gin.Context) (roomID, userID int64, ok bool) {
	roomID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		badRequest(c, "conversation_id", c.Param("conversation_id"))
		return 0, 0, false
	}
	userID, err = strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		badRequest(c, "user_id", c.Param("user_id"))
		return 0, 0, false
	}
	return roomID, userID, true
}

func badRequest(c *gin.Context, field, value string) {
	e := errs.ErrArgs.WithDetail(field + "=" + value)
	c.AbortWithStatusJSON(http.StatusBadRequest, e)
}
