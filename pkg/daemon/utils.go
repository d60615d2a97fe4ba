package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// quietPaths are polled often enough that successful requests are only
// logged at trace level.
var quietPaths = map[string]bool{
	"/metrics":  true,
	"/readings": true,
	"/sequence": true,
	"/events":   true,
}

// ginLogger logs one entry per request. Instrument failures (502) and
// cooldown conflicts (409) are warnings so they show up at the default
// level without failing the request log.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"status":  status,
			"elapsed": elapsed.Round(time.Millisecond),
			"method":  c.Request.Method,
			"path":    path,
			"bytes":   max(c.Writer.Size(), 0),
		})
		if run := seq.CurrentID(); run != "" {
			entry = entry.WithField("run", run)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			entry = entry.WithField("error", errs.String())
		}

		msg := fmt.Sprintf("%s %s %d", c.Request.Method, path, status)
		switch {
		case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		case quietPaths[path]:
			entry.Trace(msg)
		default:
			entry.Debug(msg)
		}
	}
}

// abortWithError replies with err as a JSON string and records it for the
// logger.
func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}
