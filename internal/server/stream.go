package server

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusdesk/portal/internal/models"
	"github.com/campusdesk/portal/internal/routes"
	"github.com/campusdesk/portal/internal/session"
)

// notificationStream pushes the viewer's new notifications as server-sent
// events. It holds one hub subscription and one auth subscription and ends
// with a signed_out event when the session is revoked elsewhere.
func (s *Server) notificationStream(c *gin.Context) {
	ctx := c.Request.Context()
	viewer := viewerFrom(c)
	store := storeFrom(c)

	signedOut := make(chan struct{})
	var once sync.Once
	cancelState := store.Subscribe(func(st session.State) {
		if !st.Authenticated {
			once.Do(func() { close(signedOut) })
		}
	})
	defer cancelState()

	store.Start(ctx)
	defer store.Close()

	changes, unsubscribe := s.hub.Subscribe(models.TableNotifications)
	defer unsubscribe()

	keepalive := time.NewTicker(s.keepaliveInterval)
	defer keepalive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("ready", gin.H{"user_id": viewer.UserID})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-signedOut:
			c.SSEvent("signed_out", gin.H{"redirect": routes.Login})
			return false
		case change, ok := <-changes:
			if !ok {
				return false
			}
			if change.Str("user_id") == viewer.UserID {
				c.SSEvent("notification", change.Record)
			}
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
