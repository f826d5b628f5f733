package daemon

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/device"
	"github.com/batteryhealth/bhc/pkg/driver"
	"github.com/batteryhealth/bhc/pkg/privileged"
)

// Logger is the logrus logger handler
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handler can change c.Path so:
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		stop := time.Since(start)
		latency := int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency, // time to process
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
		})

		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, driver.ErrInvalidThreshold),
		errors.Is(err, device.ErrUnsupportedMode),
		errors.Is(err, device.ErrThresholdOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrNoDevice):
		return http.StatusNotFound
	case errors.Is(err, driver.ErrNotInstalled),
		errors.Is(err, driver.ErrNeedsUpdate),
		errors.Is(err, driver.ErrCheckPending):
		return http.StatusConflict
	case errors.Is(err, driver.ErrDestroyed):
		return http.StatusServiceUnavailable
	case errors.Is(err, device.ErrApplyFailed):
		return http.StatusBadGateway
	case errors.Is(err, privileged.ErrCheckInterrupted):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// abort writes err as the response body and records it on the context.
func abort(c *gin.Context, status int, err error) {
	c.IndentedJSON(status, err.Error())
	_ = c.AbortWithError(status, err)
}
