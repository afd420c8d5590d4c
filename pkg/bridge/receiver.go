package bridge

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/leoric-crown/shared-context-server/pkg/session"
)

// Publisher is satisfied by notify.Hub.
type Publisher interface {
	Publish(sessionID string, msg session.Message)
}

// Receiver exposes the HTTP endpoint peers POST broadcasts to.
type Receiver struct {
	e   *echo.Echo
	pub Publisher
}

// NewReceiver builds a Receiver that republishes every inbound broadcast
// into pub, so subscribers on this instance see events written on a peer.
func NewReceiver(pub Publisher) *Receiver {
	e := echo.New()
	e.Use(middleware.Logger())
	e.HideBanner = true

	r := &Receiver{e: e, pub: pub}
	e.POST("/broadcast/:session_id", r.handleBroadcast)
	return r
}

// Handler returns the underlying echo instance so it can be mounted by the
// server's cmd-level setup, or served standalone.
func (r *Receiver) Handler() *echo.Echo {
	return r.e
}

func (r *Receiver) handleBroadcast(c echo.Context) error {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}

	var payload Payload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid broadcast payload"})
	}

	r.pub.Publish(sessionID, payload.Message)
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}
