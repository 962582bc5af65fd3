package recording

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"crm-telephony/internal/apperr"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// passthroughHeaders are copied from the upstream response.
var passthroughHeaders = []string{"Content-Type", "Content-Length", "Content-Disposition", "Accept-Ranges", "Last-Modified", "ETag"}

type Handler struct {
	Proxy   *Proxy
	Metrics *metrics.Metrics
}

// Serve handles GET /recording?url=<provider url>|sid=<recording sid>.
func (h Handler) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	u, err := h.Proxy.Resolve(c.Query("url"), c.Query("sid"))
	if err != nil {
		var fe *apperr.ForbiddenError
		if errors.As(err, &fe) {
			log.Warn("recording fetch blocked", "url", c.Query("url"))
		}
		h.Metrics.RecordingFetch(string(apperr.CodeOf(err)))
		c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.CodeOf(err), "message": err.Error()})
		return
	}

	resp, err := h.Proxy.Fetch(c.Request.Context(), u)
	if err != nil {
		var ce *apperr.ConfigurationError
		if errors.As(err, &ce) {
			h.Metrics.RecordingFetch(string(apperr.CodeConfiguration))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": apperr.CodeConfiguration, "message": err.Error()})
			return
		}
		log.Error("recording upstream request failed", "host", u.Host, "err", err)
		h.Metrics.RecordingFetch("network_error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": apperr.CodeInternal, "message": "recording fetch failed"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn("recording upstream rejected", "host", u.Host, "status", resp.StatusCode)
		h.Metrics.RecordingFetch("upstream_" + strconv.Itoa(resp.StatusCode))
		c.Status(resp.StatusCode)
		return
	}

	for _, k := range passthroughHeaders {
		if v := resp.Header.Get(k); v != "" {
			c.Header(k, v)
		}
	}
	c.Header("Cache-Control", CacheControl)
	c.Status(resp.StatusCode)
	h.Metrics.RecordingFetch("ok")

	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		// Headers are gone; the client sees a truncated body.
		log.Warn("recording stream interrupted", "err", err)
	}
}
