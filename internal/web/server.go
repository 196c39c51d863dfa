// Package web serves rendered source widgets over HTTP and receives bot
// webhook updates.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/render"
	"github.com/ppiankov/infoscape/internal/source"
	"github.com/ppiankov/infoscape/internal/tgbot"
)

const (
	TokenCookie     = "token"
	shutdownTimeout = 10 * time.Second
)

//go:embed templates/*.html
var templateFS embed.FS

// PostQuerier reads posts for display.
type PostQuerier interface {
	Query(ctx context.Context, sourceIDs []string, limit int) ([]source.Post, error)
}

// TokenValidator decides whether a visitor may see hidden sources.
type TokenValidator interface {
	Validate(token string) bool
}

// UpdateProcessor handles bot updates delivered to the webhook.
type UpdateProcessor interface {
	ProcessUpdate(ctx context.Context, u tgbot.Update) error
}

type Options struct {
	Config   *config.Config
	Store    PostQuerier
	Renderer *render.Renderer
	// Auth may be nil, then hidden sources are never shown.
	Auth TokenValidator
	// Bot may be nil, then the webhook route answers 404.
	Bot UpdateProcessor
	// WebhookSecret must match the secret token header of webhook requests.
	// Empty rejects every webhook request.
	WebhookSecret string

	Logger *slog.Logger
	Now    func() time.Time
}

type Server struct {
	e          *echo.Echo
	cfg        *config.Config
	store      PostQuerier
	renderer   *render.Renderer
	auth       TokenValidator
	bot        UpdateProcessor
	hookSecret string
	logger     *slog.Logger
	now        func() time.Time
}

type templateRenderer struct {
	templates *template.Template
}

func (t *templateRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return t.templates.ExecuteTemplate(w, name, data)
}

func New(opts Options) *Server {
	s := &Server{
		cfg:        opts.Config,
		store:      opts.Store,
		renderer:   opts.Renderer,
		auth:       opts.Auth,
		bot:        opts.Bot,
		hookSecret: opts.WebhookSecret,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.renderer == nil {
		s.renderer = render.New(s.cfg.Location())
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = &templateRenderer{
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()
			if v.Error == nil {
				s.logger.DebugContext(ctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				s.logger.ErrorContext(ctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/", s.handleIndex)
	e.GET("/p/:slug", s.handlePage)
	e.GET("/set-token", s.handleSetToken)
	e.POST("/tg-webhook", s.handleWebhook)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/health", s.handleHealth)

	s.e = e
	return s
}

func (s *Server) Handler() http.Handler {
	return s.e
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", addr)
		errCh <- s.e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}
