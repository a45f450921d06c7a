// Package server exposes the image and report caches over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/report"
	"github.com/colthorp/sol-cli-go/internal/settings"
)

// Images is the part of catalog.Manager the server uses.
type Images interface {
	ListImages(ctx context.Context, day time.Time, sel catalog.Selection) ([]catalog.Image, error)
	Find(ctx context.Context, key string) (catalog.Image, error)
	Bytes(ctx context.Context, img catalog.Image) ([]byte, bool, error)
}

// Reports is the part of report.Cache the server uses.
type Reports interface {
	Get(ctx context.Context, kind report.Kind) (report.Document, error)
}

// Server represents the read-only cache service
type Server struct {
	echo     *echo.Echo
	images   Images
	reports  Reports
	settings settings.Provider
	now      func() time.Time
}

// New registers the routes on e. metrics may be nil.
func New(e *echo.Echo, images Images, reports Reports, provider settings.Provider, metrics http.Handler) *Server {
	srv := &Server{
		echo:     e,
		images:   images,
		reports:  reports,
		settings: provider,
		now:      time.Now,
	}

	e.GET("/healthz", srv.handleHealth)
	e.GET("/images/:day", srv.handleListImages)
	e.GET("/images/:day/:key", srv.handleImage)
	e.GET("/reports/:kind", srv.handleReport)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return srv
}

func (s *Server) handleHealth(c echo.Context) error {
	return OK(c, "ok", map[string]string{"version": core.Version})
}

// selection applies the set, res and pfss query parameters over the
// configured selection.
func (s *Server) selection(c echo.Context) (catalog.Selection, error) {
	sel := settings.Current(s.settings)
	if v := c.QueryParam("set"); v != "" {
		set, err := catalog.ParseImageSet(v)
		if err != nil {
			return sel, err
		}
		sel.ImageSet = set
	}
	if v := c.QueryParam("res"); v != "" {
		res, err := catalog.ParseResolution(v)
		if err != nil {
			return sel, err
		}
		sel.Resolution = res
	}
	if v := c.QueryParam("pfss"); v != "" {
		pfss, err := strconv.ParseBool(v)
		if err != nil {
			return sel, fmt.Errorf("%w: pfss must be true or false", catalog.ErrInvalidSelection)
		}
		sel.PFSS = pfss
	}
	return sel, sel.Validate()
}

func (s *Server) handleListImages(c echo.Context) error {
	day, err := core.ParseDaySpec(c.Param("day"), s.now())
	if err != nil {
		return BadRequest(c, err)
	}
	sel, err := s.selection(c)
	if err != nil {
		return BadRequest(c, err)
	}

	images, err := s.images.ListImages(c.Request().Context(), day, sel)
	if err != nil {
		logging.Logger.Warn("listing failed", zap.String("day", core.DayKey(day)), zap.Error(err))
		return FromError(c, err)
	}
	return OK(c, fmt.Sprintf("%d images", len(images)), images)
}

func (s *Server) handleImage(c echo.Context) error {
	day, err := core.ParseDaySpec(c.Param("day"), s.now())
	if err != nil {
		return BadRequest(c, err)
	}
	img, err := s.images.Find(c.Request().Context(), c.Param("key"))
	if err != nil {
		return FromError(c, err)
	}
	if !img.Day.Equal(day) {
		return BadRequest(c, fmt.Errorf("%s does not belong to %s", img.Key, core.FormatDate(day)))
	}

	data, _, err := s.images.Bytes(c.Request().Context(), img)
	if err != nil {
		logging.Logger.Warn("image fetch failed", zap.String("key", img.Key), zap.Error(err))
		return FromError(c, err)
	}
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return c.Blob(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) handleReport(c echo.Context) error {
	kind, err := report.ParseKind(c.Param("kind"))
	if err != nil {
		return Fail(c, http.StatusNotFound, err)
	}
	doc, err := s.reports.Get(c.Request().Context(), kind)
	if err != nil {
		logging.Logger.Warn("report failed", zap.Stringer("kind", kind), zap.Error(err))
		return FromError(c, err)
	}
	return OK(c, kind.String(), doc)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	logging.Logger.Info("Starting server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
