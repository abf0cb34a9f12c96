package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-checkin/pkg/capture"
	"github.com/teslashibe/go-checkin/pkg/payload"
	"github.com/teslashibe/go-checkin/pkg/scan"
)

// StartRequest is the request body for starting a scan
type StartRequest struct {
	Facing    capture.Facing `json:"facing"`
	Device    *int           `json:"device,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Framerate int            `json:"framerate,omitempty"`
}

// ResultResponse is a detected result with its classification.
type ResultResponse struct {
	Result         scan.Result            `json:"result"`
	Classification payload.Classification `json:"classification"`
	Link           string                 `json:"link,omitempty"`
}

// handleState returns the controller state
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.scanner.State())
}

// handleStart acquires the camera and starts scanning
func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if req.Facing == "" {
		req.Facing = s.config.Facing
	}
	if !req.Facing.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "facing must be environment or user")
	}
	if req.Device != nil && *req.Device < 0 {
		req.Device = nil
	}
	if req.Width < 0 || req.Height < 0 || req.Framerate < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "width, height and framerate must not be negative")
	}

	err := s.scanner.Start(c.UserContext(), capture.Constraints{
		Facing:    req.Facing,
		Device:    req.Device,
		Width:     req.Width,
		Height:    req.Height,
		Framerate: req.Framerate,
	})
	if err != nil {
		return err
	}
	return c.JSON(s.scanner.State())
}

// handleRescan resumes scanning after a detection
func (s *Server) handleRescan(c *fiber.Ctx) error {
	if err := s.scanner.Rescan(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.scanner.State())
}

// handleDispose stops scanning and releases the camera
func (s *Server) handleDispose(c *fiber.Ctx) error {
	s.scanner.Dispose()
	return c.JSON(s.scanner.State())
}

// handleResult returns the current result and how it classifies
func (s *Server) handleResult(c *fiber.Ctx) error {
	r, ok := s.scanner.Result()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no result")
	}
	class := payload.Classify(r.Payload)
	return c.JSON(ResultResponse{
		Result:         r,
		Classification: class,
		Link:           class.Link(),
	})
}

// handleVisit opens the current result if it is a link
func (s *Server) handleVisit(c *fiber.Ctx) error {
	r, ok := s.scanner.Result()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no result")
	}

	u, err := payload.VisitLink(c.UserContext(), s.visitor, r.Payload)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"url": u.String(),
	})
}

// handleError maps domain errors to status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error

	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, scan.ErrInvalidTransition), errors.Is(err, scan.ErrDisposed):
		code = fiber.StatusConflict
	case errors.Is(err, payload.ErrNotLink), errors.Is(err, payload.ErrUnsafeScheme):
		code = fiber.StatusUnprocessableEntity
	case errors.Is(err, payload.ErrVisitDisabled):
		code = fiber.StatusForbidden
	case errors.Is(err, ErrNoDashboard), capture.IsAcquireFailure(err):
		code = fiber.StatusServiceUnavailable
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}

	body := fiber.Map{"error": err.Error()}
	if capture.IsAcquireFailure(err) {
		body["error"] = scan.MessageCameraUnavailable
	}
	return c.Status(code).JSON(body)
}
