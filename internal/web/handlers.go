package web

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ppiankov/infoscape/internal/config"
	"github.com/ppiankov/infoscape/internal/render"
	"github.com/ppiankov/infoscape/internal/tgbot"
)

type pageView struct {
	Title   string
	Slug    string
	Pages   []config.PageConfig
	Widgets []render.RenderedSource
}

func (s *Server) handleIndex(c echo.Context) error {
	return s.renderWidgets(c, "", s.cfg.SortedSources())
}

func (s *Server) handlePage(c echo.Context) error {
	page, ok := s.cfg.Page(c.Param("slug"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "page not found")
	}
	return s.renderWidgets(c, page.Slug, page.Sources)
}

func (s *Server) renderWidgets(c echo.Context, slug string, sources []config.Source) error {
	ctx := c.Request().Context()
	authorized := s.authorized(c)
	now := s.now()

	widgets := make([]render.RenderedSource, 0, len(sources))
	for _, src := range sources {
		if src.Hidden && !authorized {
			continue
		}
		posts, err := s.store.Query(ctx, []string{src.ID}, s.cfg.Render.Limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "load posts").SetInternal(err)
		}
		widgets = append(widgets, s.renderer.RenderSource(src.Title, src.Link, posts, s.cfg.Render.Keywords, now))
	}

	return c.Render(http.StatusOK, "index.html", pageView{
		Title:   s.cfg.Title,
		Slug:    slug,
		Pages:   s.cfg.Pages,
		Widgets: widgets,
	})
}

func (s *Server) authorized(c echo.Context) bool {
	if s.auth == nil {
		return false
	}
	cookie, err := c.Cookie(TokenCookie)
	if err != nil {
		return false
	}
	return s.auth.Validate(cookie.Value)
}

// handleSetToken stores a valid token from the bot link in a cookie and
// redirects to the index.
func (s *Server) handleSetToken(c echo.Context) error {
	token := c.QueryParam("value")
	if s.auth == nil || !s.auth.Validate(token) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	c.SetCookie(&http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.Auth.Lifetime.Seconds()),
		HttpOnly: true,
		Secure:   c.Scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusSeeOther, "/")
}

// handleWebhook always acknowledges a decodable update so the Bot API does
// not redeliver it; processing errors are only logged. Requests without the
// registered secret token are rejected before decoding.
func (s *Server) handleWebhook(c echo.Context) error {
	if s.bot == nil {
		return echo.NewHTTPError(http.StatusNotFound, "webhook disabled")
	}
	if !s.webhookAuthorized(c.Request().Header.Get(tgbot.SecretTokenHeader)) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid secret token")
	}

	var update tgbot.Update
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid update")
	}

	if err := s.bot.ProcessUpdate(c.Request().Context(), update); err != nil {
		s.logger.Warn("process webhook update failed", "update_id", update.UpdateID, "error", err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) webhookAuthorized(token string) bool {
	if s.hookSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.hookSecret)) == 1
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
