package api

import (
	"embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed pwa/sw.js pwa/manifest.webmanifest
var pwaFiles embed.FS

// registerPWARoutes serves the worker script and manifest from root paths
// so the worker scope covers the entire application. The application
// registers its worker at /static/sw.js, which is served here as well.
func (s *Server) registerPWARoutes() {
	s.echo.GET("/manifest.webmanifest", func(c echo.Context) error {
		return handlePWAFile(c, "manifest.webmanifest", "application/manifest+json")
	})

	serveWorker := func(c echo.Context) error {
		c.Response().Header().Set("Service-Worker-Allowed", "/")
		return handlePWAFile(c, "sw.js", "text/javascript; charset=utf-8")
	}
	s.echo.GET("/sw.js", serveWorker)
	s.echo.GET("/static/sw.js", serveWorker)
}

// handlePWAFile serves an embedded PWA file. These have fixed names, so they
// are revalidated on every load.
func handlePWAFile(c echo.Context, filename, contentType string) error {
	data, err := pwaFiles.ReadFile("pwa/" + filename)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	c.Response().Header().Set("Cache-Control", "no-cache")
	return c.Blob(http.StatusOK, contentType, data)
}
