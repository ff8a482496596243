package workflow

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/caregap/internal/domain/screening"
	"github.com/ehr/caregap/internal/platform/auth"
	"github.com/ehr/caregap/pkg/pagination"
)

type Handler struct {
	svc      *Service
	sessions *Manager
}

func NewHandler(svc *Service, sessions *Manager) *Handler {
	return &Handler{svc: svc, sessions: sessions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("physician")

	// Stateless reads
	read := api.Group("", role)
	read.GET("/patients", h.ListPatients)
	read.GET("/patients/:id/dashboard", h.GetDashboard)
	read.GET("/patients/:id/submissions", h.ListSubmissions)

	// Sessions
	s := api.Group("/sessions", role)
	s.POST("", h.CreateSession)
	s.GET("/:session", h.GetSession)
	s.DELETE("/:session", h.DeleteSession)
	s.PUT("/:session/subject", h.SelectSubject)
	s.PUT("/:session/reference-date", h.SetReferenceDate)
	s.POST("/:session/screening/confirm", h.ConfirmNoChange)
	s.POST("/:session/screening/entry", h.SubmitFreshEntry)
	s.POST("/:session/screening/update", h.RequestUpdate)
	s.POST("/:session/screening/dismiss", h.Dismiss)
	s.POST("/:session/encounter-form", h.OpenEncounterForm)
	s.DELETE("/:session/encounter-form", h.CloseEncounterForm)
	s.POST("/:session/encounters", h.RequestQualifyingEncounter)
}

// SessionResponse is a session snapshot with its id.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Snapshot
}

type selectSubjectRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
}

type referenceDateRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type freshEntryRequest struct {
	Code string `json:"code" validate:"required"`
}

// -- Stateless --

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) GetDashboard(c echo.Context) error {
	snap, err := h.svc.Evaluate(c.Request().Context(), c.Param("id"), c.QueryParam("date"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSubmissions(c.Request().Context(), c.Param("id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Sessions --

func (h *Handler) CreateSession(c echo.Context) error {
	sess := h.sessions.Create()
	return c.JSON(http.StatusCreated, respond(sess))
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, respond(sess))
}

func (h *Handler) DeleteSession(c echo.Context) error {
	if err := h.sessions.Delete(c.Param("session")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SelectSubject(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req selectSubjectRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	h.svc.SelectSubject(sess.Context(), sess.Controller, req.PatientID)
	return c.JSON(http.StatusAccepted, respond(sess))
}

func (h *Handler) SetReferenceDate(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req referenceDateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.SetReferenceDate(sess.Context(), sess.Controller, req.Date); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, respond(sess))
}

func (h *Handler) ConfirmNoChange(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if _, err := h.svc.ConfirmNoChange(c.Request().Context(), sess.Controller, actor(c, sess)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, respond(sess))
}

func (h *Handler) SubmitFreshEntry(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req freshEntryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if _, err := h.svc.SubmitFreshEntry(c.Request().Context(), sess.Controller, actor(c, sess), req.Code); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, respond(sess))
}

func (h *Handler) RequestUpdate(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if err := sess.Controller.RequestUpdate(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, respond(sess))
}

func (h *Handler) Dismiss(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if err := sess.Controller.Dismiss(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, respond(sess))
}

func (h *Handler) OpenEncounterForm(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	if err := sess.Controller.OpenEncounterForm(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, respond(sess))
}

func (h *Handler) CloseEncounterForm(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sess.Controller.CloseEncounterForm()
	return c.JSON(http.StatusOK, respond(sess))
}

func (h *Handler) RequestQualifyingEncounter(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var req screening.EncounterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if _, err := h.svc.RequestQualifyingEncounter(c.Request().Context(), sess.Context(), sess.Controller, actor(c, sess), req); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, respond(sess))
}

// -- helpers --

func (h *Handler) session(c echo.Context) (*Session, error) {
	sess, err := h.sessions.Get(c.Param("session"))
	if err != nil {
		return nil, httpError(err)
	}
	return sess, nil
}

func respond(sess *Session) SessionResponse {
	return SessionResponse{SessionID: sess.ID, Snapshot: sess.Controller.Snapshot()}
}

func actor(c echo.Context, sess *Session) Actor {
	return Actor{SessionID: sess.ID, UserID: auth.UserIDFromContext(c.Request().Context())}
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownSmokingCode),
		errors.Is(err, ErrInvalidReferenceDate),
		errors.Is(err, screening.ErrEncounterDateRequired),
		errors.Is(err, screening.ErrEncounterDateInvalid),
		errors.Is(err, screening.ErrEncounterCodeRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSubmissionFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, ErrNoSubject),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrGateClosed),
		errors.Is(err, ErrSubmissionPending),
		errors.Is(err, ErrStaleSubject):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
