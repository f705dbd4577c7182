package api

import (
	"io"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/network"
	"github.com/ajspantry/pantry-offline/internal/offline"
)

// handleProxy routes every non-admin request through the offline cache
// manager and copies its response to the client.
func (s *Server) handleProxy(c echo.Context) error {
	in := c.Request()
	out := s.outgoingRequest(in)

	resp, err := s.manager.Dispatch(in.Context(), offline.EventFetch, out)
	if err != nil {
		level := s.log.Warn
		if errors.Is(err, offline.ErrOffline) {
			level = s.log.Debug
		}
		level("proxy fetch failed",
			logger.String("method", out.Method),
			logger.String("url", out.URL.String()),
			logger.Error(err))
		return c.String(http.StatusBadGateway, http.StatusText(http.StatusBadGateway))
	}
	defer func() { _ = resp.Body.Close() }()

	network.RemoveHopByHop(resp.Header)
	header := c.Response().Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if in.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		s.log.Debug("client response copy interrupted",
			logger.String("url", out.URL.String()),
			logger.Error(err))
	}
	return nil
}

// outgoingRequest turns an incoming server request into a client request.
// Absolute-form URIs are kept; origin-form URIs resolve against the
// configured origin.
func (s *Server) outgoingRequest(in *http.Request) *http.Request {
	out := in.Clone(in.Context())
	out.RequestURI = ""
	if !out.URL.IsAbs() {
		origin := s.manager.Config().Origin
		out.URL.Scheme = origin.Scheme
		out.URL.Host = origin.Host
	}
	out.Host = out.URL.Host
	network.RemoveHopByHop(out.Header)

	if clientIP := remoteHost(in.RemoteAddr); clientIP != "" {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	if in.ContentLength == 0 {
		out.Body = nil
	}
	return out
}

// remoteHost strips the port from a RemoteAddr.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
