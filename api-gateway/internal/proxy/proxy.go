package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolhire/platform/shared/middleware"
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// Proxy forwards gateway requests to one backend service.
type Proxy struct {
	serviceURL string
	client     *http.Client
}

// New returns a Proxy for serviceURL. A nil client gets a 30 second timeout.
func New(serviceURL string, client *http.Client) *Proxy {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Proxy{serviceURL: serviceURL, client: client}
}

// Handler relays the request path, query, body and headers unchanged and
// copies the backend's answer back to the caller.
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetURL := p.serviceURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		var bodyBytes []byte
		if c.Request.Body != nil {
			var err error
			bodyBytes, err = io.ReadAll(c.Request.Body)
			if err != nil {
				middleware.RespondWithError(c, http.StatusBadRequest, "Failed to read request body")
				return
			}
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, bytes.NewReader(bodyBytes))
		if err != nil {
			middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to create request")
			return
		}

		for key, values := range c.Request.Header {
			if hopHeaders[key] {
				continue
			}
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		if id := middleware.GetRequestID(c); id != "" {
			req.Header.Set(middleware.RequestIDHeader, id)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			slog.Error("error proxying request", "target", targetURL, "error", err, "request_id", middleware.GetRequestID(c))
			middleware.RespondWithError(c, http.StatusBadGateway, "Service unavailable")
			return
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			middleware.RespondWithError(c, http.StatusBadGateway, "Failed to read response")
			return
		}

		for key, values := range resp.Header {
			if hopHeaders[key] || key == "Content-Length" || key == middleware.RequestIDHeader {
				continue
			}
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}

		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
}
