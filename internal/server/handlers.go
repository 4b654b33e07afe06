package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/shorelinestewards/rsvp-ledger/pkg/core/authoring"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/ledger"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/reconcile"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

type submitRequest struct {
	EventID            string `json:"event_id"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	AdditionalComments string `json:"additional_comments"`
	AttemptToken       string `json:"attempt_token"`
}

func (s *Server) submitRSVP(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := s.ledger.CreateOrReactivateRSVP(c.Context(), ledger.SubmitInput{
		EventID:            req.EventID,
		Email:              sessionEmail(c),
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		AdditionalComments: req.AdditionalComments,
		AttemptToken:       req.AttemptToken,
	})
	if err != nil {
		return ledgerError(err)
	}

	message := "RSVP confirmed"
	if result.Reactivated {
		message = "RSVP re-activated"
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": message,
		"rsvp":    result,
	})
}

type cancelRequest struct {
	EventID string `json:"event_id"`
}

func (s *Server) cancelRSVP(c *fiber.Ctx) error {
	var req cancelRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := s.ledger.CancelRSVP(c.Context(), req.EventID, sessionEmail(c))
	if err != nil {
		return ledgerError(err)
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"message":      "RSVP cancelled",
		"cancellation": result,
	})
}

func (s *Server) listEvents(c *fiber.Ctx) error {
	events, err := s.store.ListEventsByStatus(c.Context(), store.EventActive)
	if err != nil {
		return err
	}

	// Events past their end time are completed lazily by the sweep; the
	// public listing simply hides them in the meantime.
	now := time.Now()
	upcoming := make([]store.Event, 0, len(events))
	for _, ev := range events {
		if now.After(ev.EndTime) {
			continue
		}
		upcoming = append(upcoming, ev)
	}
	return c.JSON(fiber.Map{"success": true, "events": upcoming})
}

func (s *Server) getEvent(c *fiber.Ctx) error {
	ev, err := s.lifecycle.GetEventWithDerivedStatus(c.Context(), c.Params("event_id"))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "event not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "event": ev})
}

func (s *Server) myMetrics(c *fiber.Ctx) error {
	return s.metricsFor(c, sessionEmail(c))
}

func (s *Server) volunteerMetrics(c *fiber.Ctx) error {
	return s.metricsFor(c, c.Params("email"))
}

func (s *Server) metricsFor(c *fiber.Ctx, email string) error {
	volunteer, err := s.store.GetVolunteer(c.Context(), store.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "volunteer not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":           true,
		"email":             volunteer.Email,
		"volunteer_metrics": volunteer.Metrics,
	})
}

func (s *Server) logout(c *fiber.Ctx) error {
	if err := s.sessions.Revoke(c.Context(), bearerToken(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Logged out"})
}

type issueSessionRequest struct {
	Email string `json:"email"`
}

// issueSession mints a session for an email the identity service has already
// verified. It sits behind the admin token because the verification step
// lives upstream of this service.
func (s *Server) issueSession(c *fiber.Ctx) error {
	var req issueSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	session, err := s.sessions.Issue(c.Context(), req.Email)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"session": session,
	})
}

type createEventRequest struct {
	Slug          string         `json:"slug"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Location      store.Location `json:"location"`
	AttendanceCap int            `json:"attendance_cap"`
	HugoConfig    map[string]any `json:"hugo_config"`
	Metadata      map[string]any `json:"metadata"`
	RRule         string         `json:"rrule"`
}

func (s *Server) createEvent(c *fiber.Ctx) error {
	var req createEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.AttendanceCap == 0 {
		req.AttendanceCap = s.cfg.DefaultAttendanceCap
	}

	in := authoring.EventInput{
		Slug:          req.Slug,
		Title:         req.Title,
		Description:   req.Description,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Location:      req.Location,
		AttendanceCap: req.AttendanceCap,
		HugoConfig:    req.HugoConfig,
		Metadata:      req.Metadata,
	}

	if req.RRule != "" {
		events, err := authoring.CreateSeries(c.Context(), s.store, s.logger, in, req.RRule)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "events": events})
	}

	ev, err := authoring.CreateEvent(c.Context(), s.store, s.logger, in)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "event": ev})
}

type updateEventRequest struct {
	Title         *string         `json:"title"`
	Description   *string         `json:"description"`
	StartTime     *time.Time      `json:"start_time"`
	EndTime       *time.Time      `json:"end_time"`
	Location      *store.Location `json:"location"`
	AttendanceCap *int            `json:"attendance_cap"`
	HugoConfig    map[string]any  `json:"hugo_config"`
	Metadata      map[string]any  `json:"metadata"`
}

func (s *Server) updateEvent(c *fiber.Ctx) error {
	var req updateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	ev, err := authoring.UpdateEvent(c.Context(), s.store, s.logger, c.Params("event_id"), authoring.UpdateInput{
		Title:         req.Title,
		Description:   req.Description,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Location:      req.Location,
		AttendanceCap: req.AttendanceCap,
		HugoConfig:    req.HugoConfig,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "event": ev})
}

type cancelEventRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelEvent(c *fiber.Ctx) error {
	var req cancelEventRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	result, err := s.lifecycle.CancelEvent(c.Context(), c.Params("event_id"), req.Reason)
	if err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "result": result})
}

type attendanceRequest struct {
	Email    string `json:"email"`
	Attended bool   `json:"attended"`
}

func (s *Server) markAttendance(c *fiber.Ctx) error {
	var req attendanceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	rsvp, err := s.lifecycle.MarkAttendance(c.Context(), c.Params("event_id"), req.Email, req.Attended)
	if err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "rsvp": rsvp})
}

func (s *Server) listEventRSVPs(c *fiber.Ctx) error {
	rsvps, err := s.store.ListEventRSVPs(c.Context(), c.Params("event_id"))
	if err != nil {
		return err
	}
	if status := c.Query("status"); status != "" {
		filtered := rsvps[:0]
		for _, r := range rsvps {
			if r.Status == store.RSVPStatus(status) {
				filtered = append(filtered, r)
			}
		}
		rsvps = filtered
	}
	return c.JSON(fiber.Map{"success": true, "rsvps": rsvps})
}

func (s *Server) sweep(c *fiber.Ctx) error {
	completed, err := s.lifecycle.SweepCompleted(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "completed": completed})
}

type archiveRequest struct {
	Status string    `json:"status"`
	Before time.Time `json:"before"`
}

func (s *Server) archive(c *fiber.Ctx) error {
	var req archiveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		req.Status = string(store.EventCompleted)
	}
	if req.Before.IsZero() {
		req.Before = time.Now()
	}
	archived, err := s.lifecycle.ArchiveEvents(c.Context(), store.EventStatus(req.Status), req.Before)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "archived": archived})
}

func (s *Server) reconcile(c *fiber.Ctx) error {
	report, err := reconcile.Run(c.Context(), s.store, s.logger)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "report": report})
}

// ledgerError maps classified ledger failures onto HTTP statuses. Unknown
// errors bubble up to the fiber error handler as 500s.
func ledgerError(err error) error {
	switch ledger.CodeOf(err) {
	case ledger.CodeNotFound:
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case ledger.CodeValidation, ledger.CodePastEvent, ledger.CodeWindowClosed:
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case ledger.CodeDuplicateRSVP, ledger.CodeInvalidState, ledger.CodeCapacityExceeded:
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case ledger.CodeTransientConflict:
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
