package daemon

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const sseKeepAlive = 15 * time.Second

// streamEvents relays hub events to the client as server-sent events
// until the client goes away.
func streamEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	logrus.WithField("subscribers", sseHub.Subscribers()).Debug("event stream opened")
	defer logrus.Debug("event stream closed")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.SSEvent("connected", "{}")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "{}")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
