package daemon

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGinLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	saved := seq
	seq = nil
	t.Cleanup(func() { seq = saved })

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)

	r := gin.New()
	r.Use(ginLogger(logger))
	r.GET("/readings", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/identity", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.PUT("/heaters/:output/level", func(c *gin.Context) {
		abortWithError(c, http.StatusBadGateway, errors.New("no reply to MOUT"))
	})
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	tests := []struct {
		method string
		path   string
		want   logrus.Level
	}{
		{http.MethodGet, "/readings", logrus.TraceLevel},
		{http.MethodGet, "/identity", logrus.DebugLevel},
		{http.MethodPut, "/heaters/1/level", logrus.WarnLevel},
		{http.MethodGet, "/boom", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		hook.Reset()
		do(r, tt.method, tt.path, "")
		entry := hook.LastEntry()
		require.NotNil(t, entry, tt.path)
		assert.Equal(t, tt.want, entry.Level, tt.path)
		assert.Equal(t, tt.path, entry.Data["path"])
	}

	hook.Reset()
	do(r, http.MethodPut, "/heaters/1/level", "")
	assert.Contains(t, hook.LastEntry().Data["error"], "no reply to MOUT")
}
