package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// stream pushes the caller's toast presentations and unread counter as
// server-sent events. A snapshot is written immediately, then again on every
// presentation change until the client disconnects. Browsers cannot set an
// Authorization header on EventSource, so a token query parameter is accepted
// as a fallback.
func stream(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		user, err := auth.UserFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		s, ok := sm.Session(user.ID)
		if !ok {
			return c.JSON(http.StatusConflict, errorResponse{Error: "session not established"})
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ch := s.Toasts.Subscribe()
		defer s.Toasts.Unsubscribe(ch)
		for {
			event := streamEvent{
				Toasts: s.Toasts.Active(),
				Unread: s.Store.UnreadCount(),
			}
			data, err := sonic.Marshal(event)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				continue
			}
		}
	}
}
