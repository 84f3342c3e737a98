package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/alert"
	"kanban-api/board"
	"kanban-api/notification"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Register wires up all API routes on the provided Echo instance. The
// notification group runs behind the fault barrier so a subsystem panic
// degrades to a placeholder response instead of taking the board down.
func Register(e *echo.Echo, sm *SessionManager, auth Authenticator, perms Permissions, deduper Deduper, logger *log.Logger) {
	e.POST("/api/session", signIn(sm, auth))
	e.DELETE("/api/session", signOut(sm, auth))
	e.GET("/api/session", getSession(sm, auth))
	e.GET("/api/team", getTeam(sm, auth))

	n := e.Group("/api/notifications", FaultBarrierMiddleware(logger))
	n.GET("", getNotifications(sm, auth))
	n.POST("", createNotification(sm, auth, deduper, logger))
	n.POST("/read-all", markAllRead(sm, auth))
	n.POST("/:id/read", markRead(sm, auth))
	n.DELETE("/:id", deleteNotification(sm, auth))
	n.DELETE("", clearNotifications(sm, auth))
	n.PUT("/panel", setPanelVisible(sm, auth))

	e.GET("/api/board", getBoard(sm, auth))
	e.POST("/api/board/tasks", addTask(sm, auth))
	e.POST("/api/board/tasks/:id/move", moveTask(sm, auth))
	e.PUT("/api/board/tasks/:id/assignee", assignTask(sm, auth))

	e.GET("/api/alerts/permission", getPermission(auth, perms))
	e.PUT("/api/alerts/permission", putPermission(auth, perms))
	e.POST("/api/alerts/permission/request", requestPermission(auth, perms))
	e.PUT("/api/focus", putFocus(auth, perms))

	e.GET("/api/toasts", getToasts(sm, auth))
	e.POST("/api/toasts/:id/close", closeToast(sm, auth))
	e.GET("/api/stream", stream(sm, auth))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// requireSession resolves the caller's live session. On failure the response
// has already been written and the returned session is nil.
func requireSession(c echo.Context, sm *SessionManager, auth Authenticator) (*Session, error) {
	user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return nil, c.String(http.StatusUnauthorized, err.Error())
	}
	s, ok := sm.Session(user.ID)
	if !ok {
		return nil, c.JSON(http.StatusConflict, errorResponse{Error: "session not established"})
	}
	return s, nil
}

func signIn(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		s := sm.SignIn(ctx, user)
		return c.JSON(http.StatusOK, sessionResponse{
			User:        s.User,
			TeamMembers: sm.TeamMembers(ctx),
		})
	}
}

func signOut(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sm.SignOut(user.ID)
		return c.NoContent(http.StatusNoContent)
	}
}

func getSession(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		return c.JSON(http.StatusOK, sessionResponse{
			User:        s.User,
			TeamMembers: sm.TeamMembers(c.Request().Context()),
		})
	}
}

func getTeam(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		return c.JSON(http.StatusOK, sm.TeamMembers(c.Request().Context()))
	}
}

func getNotifications(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		return c.JSON(http.StatusOK, notificationsResponse{
			Notifications: s.Store.Notifications(),
			Unread:        s.Store.UnreadCount(),
			PanelVisible:  s.Store.PanelVisible(),
		})
	}
}

func createNotification(sm *SessionManager, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newCreateRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		user, authErr := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}
		s, ok := sm.Session(user.ID)
		if !ok {
			metrics.SetErrorStage("session")
			err = c.JSON(http.StatusConflict, errorResponse{Error: "session not established"})
			return err
		}

		lr := io.LimitReader(c.Request().Body, createNotificationMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var req createNotificationRequest
		if decErr := dec.Decode(&req); decErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}

		dedupKey := c.Request().Header.Get(idempotencyKeyHeader)
		if deduper != nil && dedupKey != "" {
			added, dedupErr := deduper.Add(ctx, user.ID, dedupKey)
			if dedupErr != nil {
				logger.WithError(dedupErr).WithField("user", user.ID).Warn("idempotency check failed, proceeding")
			} else if !added {
				metrics.SetUnread(s.Store.UnreadCount())
				err = c.JSON(http.StatusOK, createNotificationResponse{Unread: s.Store.UnreadCount()})
				return err
			}
		}

		createStart := time.Now()
		n := s.Store.Create(notification.CreateInput{
			Type:    req.Type,
			Message: req.Message,
			Details: req.Details,
		})
		metrics.ObserveCreate(time.Since(createStart))

		if n == nil && deduper != nil && dedupKey != "" {
			if remErr := deduper.Remove(ctx, user.ID, dedupKey); remErr != nil {
				logger.WithError(remErr).WithField("user", user.ID).Warn("failed to release idempotency key")
			}
		}

		unread := s.Store.UnreadCount()
		metrics.SetCreated(n != nil)
		metrics.SetUnread(unread)

		status := http.StatusOK
		if n != nil {
			status = http.StatusCreated
		}
		encodeStart := time.Now()
		err = c.JSON(status, createNotificationResponse{
			Notification: n,
			Created:      n != nil,
			Unread:       unread,
		})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func markRead(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		s.Store.MarkAsRead(c.Param("id"))
		return c.JSON(http.StatusOK, notificationsResponse{
			Notifications: s.Store.Notifications(),
			Unread:        s.Store.UnreadCount(),
			PanelVisible:  s.Store.PanelVisible(),
		})
	}
}

func markAllRead(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		s.Store.MarkAllAsRead()
		return c.JSON(http.StatusOK, notificationsResponse{
			Notifications: s.Store.Notifications(),
			Unread:        s.Store.UnreadCount(),
			PanelVisible:  s.Store.PanelVisible(),
		})
	}
}

func deleteNotification(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		s.Store.Delete(c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}

func clearNotifications(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		s.Store.ClearAll(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}
}

func setPanelVisible(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		var req panelRequest
		if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		s.Store.SetPanelVisible(req.Visible)
		return c.NoContent(http.StatusNoContent)
	}
}

func getBoard(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		return c.JSON(http.StatusOK, s.Board.Board())
	}
}

func addTask(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		var req addTaskRequest
		if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		task, addErr := s.Board.AddTask(c.Request().Context(), req.ColumnID, req.Title, req.Description)
		if addErr != nil {
			return boardError(c, addErr)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func moveTask(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		var req moveTaskRequest
		if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if moveErr := s.Board.MoveTask(c.Request().Context(), c.Param("id"), req.ColumnID, req.Index); moveErr != nil {
			return boardError(c, moveErr)
		}
		return c.JSON(http.StatusOK, s.Board.Board())
	}
}

func assignTask(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		var req assignTaskRequest
		if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if assignErr := s.Board.AssignTask(c.Request().Context(), c.Param("id"), req.Assignee); assignErr != nil {
			return boardError(c, assignErr)
		}
		return c.JSON(http.StatusOK, s.Board.Board())
	}
}

func boardError(c echo.Context, err error) error {
	if errors.Is(err, board.ErrTaskNotFound) || errors.Is(err, board.ErrColumnNotFound) {
		return c.String(http.StatusNotFound, err.Error())
	}
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, err.Error())
}

func getPermission(auth Authenticator, perms Permissions) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		return c.JSON(http.StatusOK, permissionResponse{State: string(perms.Permission(user.ID))})
	}
}

func putPermission(auth Authenticator, perms Permissions) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req permissionRequest
		if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		perms.SetPermission(user.ID, alert.Permission(req.State))
		return c.JSON(http.StatusOK, permissionResponse{State: string(perms.Permission(user.ID))})
	}
}

func requestPermission(auth Authenticator, perms Permissions) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		granted := perms.RequestPermission(c.Request().Context(), user.ID)
		state := perms.Permission(user.ID)
		if granted {
			state = alert.PermissionGranted
		}
		return c.JSON(http.StatusOK, permissionResponse{State: string(state)})
	}
}

func putFocus(auth Authenticator, perms Permissions) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := auth.UserFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req focusRequest
		if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		perms.SetFocused(user.ID, req.Focused)
		return c.NoContent(http.StatusNoContent)
	}
}

func getToasts(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		return c.JSON(http.StatusOK, s.Toasts.Active())
	}
}

func closeToast(sm *SessionManager, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := requireSession(c, sm, auth)
		if s == nil {
			return err
		}
		s.Toasts.CloseToast(c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}
