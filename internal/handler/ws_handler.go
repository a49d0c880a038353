package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-broadcast/internal/service"
	"github.com/weiawesome/wes-io-broadcast/internal/ws"
	"github.com/weiawesome/wes-io-broadcast/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades realtime connections and runs one session per socket.
type WSHandler struct {
	service *service.BroadcastService
	wsCfg   ws.Config
}

func NewWSHandler(svc *service.BroadcastService, wsCfg ws.Config) *WSHandler {
	return &WSHandler{service: svc, wsCfg: wsCfg}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request and blocks until the connection ends.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient("", conn, h.wsCfg)
	sess, err := h.service.Open(c.Request.Context(), client)
	if err != nil {
		l.Error().Err(err).Msg("failed to open session")
		conn.Close()
		return
	}
	client.ID = sess.Name()

	go client.WritePump()
	client.ReadPump(sess.Context(), sess.Handle)
	sess.Close()
}
