package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		// Get request size
		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		// Process request
		c.Next()

		// Route template keeps window IDs out of the label set
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		metrics.RecordHTTPRequest(method, path, status, duration, reqSize, respSize)
	}
}

// Timer measures how long a UI command takes
type Timer struct {
	start   time.Time
	metrics *Metrics
	command string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, command string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		command: command,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.RecordCommand(t.command, status, time.Since(t.start))
}
