package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/notification"
)

// ntfyServerCheckTimeout is the per-scheme timeout for the connectivity check.
const ntfyServerCheckTimeout = 5 * time.Second

// blockedNtfyHosts are cloud metadata addresses that must not be contacted.
var blockedNtfyHosts = []string{
	"169.254.169.254",
	"fd00:ec2::254",
}

// hostnameLabelPattern validates a single DNS hostname label.
var hostnameLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)

// NtfyServerCheckResponse is the result of probing an ntfy host.
type NtfyServerCheckResponse struct {
	Recommended string `json:"recommended"` // "https", "http" or "unreachable"
	HTTPS       bool   `json:"https"`
	HTTP        bool   `json:"http"`
}

func (s *Server) registerNotificationRoutes(g *echo.Group) {
	g.POST("/notifications/test", s.SendTestNotification)
	g.GET("/notifications/check-ntfy-server", s.CheckNtfyServer)
}

// SendTestNotification broadcasts a test message to every provider.
func (s *Server) SendTestNotification(c echo.Context) error {
	if s.notifier == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Notification service not available",
		})
	}
	n := notification.NewNotification(notification.TypeInfo, notification.PriorityLow,
		"Offline cache test notification",
		"Notifications for cache "+s.manager.Version()+" are working.").
		WithComponent("offline")
	if err := s.notifier.Broadcast(c.Request().Context(), n); err != nil {
		return s.handleError(c, err, "Failed to deliver test notification", http.StatusBadGateway)
	}
	s.log.Info("test notification sent", logger.String("notification_id", n.ID))
	return c.JSON(http.StatusOK, map[string]string{"id": n.ID})
}

// CheckNtfyServer checks an ntfy host over HTTPS, then HTTP.
// GET /_sw/notifications/check-ntfy-server?host=<hostname[:port]>
func (s *Server) CheckNtfyServer(c echo.Context) error {
	host := c.QueryParam("host")
	if host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "host parameter is required"})
	}
	if !isValidNtfyHost(host) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid host parameter"})
	}
	return c.JSON(http.StatusOK, checkNtfyServer(c.Request().Context(), host))
}

// isValidNtfyHost accepts a bare hostname or IP with an optional port.
func isValidNtfyHost(host string) bool {
	if host == "" || len(host) > 260 || strings.Contains(host, "://") {
		return false
	}

	hostOnly, port := host, ""
	if h, p, err := net.SplitHostPort(host); err == nil {
		hostOnly, port = h, p
	}
	hostOnly = strings.TrimPrefix(strings.TrimSuffix(hostOnly, "]"), "[")
	if slices.Contains(blockedNtfyHosts, hostOnly) {
		return false
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return false
		}
	}
	return isValidHostname(hostOnly)
}

func isValidHostname(h string) bool {
	if net.ParseIP(h) != nil {
		return true
	}
	for label := range strings.SplitSeq(h, ".") {
		if !hostnameLabelPattern.MatchString(label) {
			return false
		}
	}
	return true
}

// isNtfyHealthResponse reports whether r is a healthy ntfy /v1/health
// reply, so unrelated servers on the same port are not mistaken for ntfy.
func isNtfyHealthResponse(r *http.Response) bool {
	if r.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		return false
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return false
	}
	healthy, ok := result["healthy"].(bool)
	return ok && healthy
}

func checkNtfyServer(ctx context.Context, host string) NtfyServerCheckResponse {
	resp := NtfyServerCheckResponse{Recommended: "unreachable"}

	hostForURL := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			hostForURL = "[" + host + "]"
		}
	}

	client := &http.Client{
		Timeout: ntfyServerCheckTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	try := func(rawURL string) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return false
		}
		r, err := client.Do(req)
		if err != nil {
			return false
		}
		defer func() { _ = r.Body.Close() }()
		return isNtfyHealthResponse(r)
	}

	if try("https://" + hostForURL + "/v1/health") {
		resp.HTTPS = true
		resp.Recommended = "https"
		return resp
	}
	if try("http://" + hostForURL + "/v1/health") {
		resp.HTTP = true
		resp.Recommended = "http"
	}
	return resp
}
