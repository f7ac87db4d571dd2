package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"github.com/kursadbilgin/reminder-engine/internal/service"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"

	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
)

type EventService interface {
	Create(ctx context.Context, input service.CreateEventInput) (*domain.Event, bool, error)
	Get(ctx context.Context, id string) (*domain.Event, error)
	List(ctx context.Context, params repository.EventListParams) ([]domain.Event, int64, error)
	Notifications(ctx context.Context, eventID string) ([]domain.NotificationLogEntry, error)
	Reschedule(ctx context.Context, eventID string) (service.ScheduleResult, error)
}

type JobInspector interface {
	Get(ctx context.Context, jobID string) (*queue.JobInfo, error)
}

type EventHandler struct {
	service EventService
	jobs    JobInspector
}

func NewEventHandler(service EventService, jobs JobInspector) (*EventHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("event service is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job inspector is required")
	}
	return &EventHandler{service: service, jobs: jobs}, nil
}

func RegisterEventRoutes(router fiber.Router, service EventService, jobs JobInspector) error {
	h, err := NewEventHandler(service, jobs)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/events", h.CreateEvent)
	v1.Get("/events", h.ListEvents)
	v1.Get("/events/:id", h.GetEvent)
	v1.Get("/events/:id/notifications", h.ListNotifications)
	v1.Post("/events/:id/reminders", h.ScheduleReminders)
	v1.Get("/queue/jobs/:jobId", h.GetJob)

	return nil
}

type createEventRequest struct {
	Title                  string  `json:"title"`
	AttendeeName           string  `json:"attendeeName"`
	AttendeeEmail          *string `json:"attendeeEmail"`
	Description            string  `json:"description"`
	StartISO               string  `json:"startIso"`
	DurationMinutes        int     `json:"durationMinutes"`
	Timezone               string  `json:"timezone"`
	CalendarID             string  `json:"calendarId"`
	HTMLLink               string  `json:"htmlLink"`
	RemindersEnabled       *bool   `json:"remindersEnabled"`
	ReminderOffsetsMinutes []int   `json:"reminderOffsetsMinutes"`
	IdempotencyKey         *string `json:"idempotencyKey"`
}

type eventResponse struct {
	ID                 string                    `json:"id"`
	UserID             *string                   `json:"userId,omitempty"`
	Title              string                    `json:"title"`
	AttendeeName       string                    `json:"attendeeName"`
	Description        string                    `json:"description,omitempty"`
	CalendarID         string                    `json:"calendarId,omitempty"`
	HTMLLink           string                    `json:"htmlLink,omitempty"`
	Start              time.Time                 `json:"start"`
	End                time.Time                 `json:"end"`
	Timezone           string                    `json:"timezone"`
	ReminderConfig     domain.ReminderConfig     `json:"reminderConfig"`
	NotificationStatus domain.NotificationStatus `json:"notificationStatus"`
	IdempotencyKey     *string                   `json:"idempotencyKey,omitempty"`
	CreatedAt          time.Time                 `json:"createdAt,omitempty"`
	UpdatedAt          time.Time                 `json:"updatedAt,omitempty"`
}

type listEventsResponse struct {
	Data []eventResponse `json:"data"`
	Meta listMeta        `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type notificationLogResponse struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	OffsetMinutes     *int      `json:"offsetMinutes,omitempty"`
	Status            string    `json:"status"`
	Recipient         string    `json:"recipient,omitempty"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Error             *string   `json:"error,omitempty"`
	Reason            *string   `json:"reason,omitempty"`
	Attempt           int       `json:"attempt"`
	Terminal          bool      `json:"terminal"`
	CreatedAt         time.Time `json:"createdAt"`
}

type scheduleResponse struct {
	EventID    string `json:"eventId"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	Added      []int  `json:"added"`
	Duplicates []int  `json:"duplicates"`
	PastDue    []int  `json:"pastDue"`
}

type jobResponse struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	EventID       string     `json:"eventId"`
	OffsetMinutes int        `json:"offsetMinutes"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"maxAttempts"`
	RunAt         time.Time  `json:"runAt"`
	LastError     string     `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

func (h *EventHandler) CreateEvent(c *fiber.Ctx) error {
	var req createEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input, err := requestToCreateInput(req)
	if err != nil {
		return toHTTPError(err)
	}
	if input.IdempotencyKey == nil {
		if key := strings.TrimSpace(c.Get(idempotencyKeyHeader)); key != "" {
			input.IdempotencyKey = &key
		}
	}

	event, created, err := h.service.Create(c.UserContext(), input)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusCreated
	if !created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(toEventResponse(event))
}

func (h *EventHandler) GetEvent(c *fiber.Ctx) error {
	event, err := h.service.Get(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toEventResponse(event))
}

func (h *EventHandler) ListEvents(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	events, total, err := h.service.List(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]eventResponse, 0, len(events))
	for i := range events {
		data = append(data, toEventResponse(&events[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listEventsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *EventHandler) ListNotifications(c *fiber.Ctx) error {
	eventID := strings.TrimSpace(c.Params("id"))
	entries, err := h.service.Notifications(c.UserContext(), eventID)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]notificationLogResponse, 0, len(entries))
	for _, entry := range entries {
		data = append(data, toNotificationLogResponse(entry))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"eventId": eventID,
		"data":    data,
	})
}

func (h *EventHandler) ScheduleReminders(c *fiber.Ctx) error {
	eventID := strings.TrimSpace(c.Params("id"))
	result, err := h.service.Reschedule(c.UserContext(), eventID)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusOK
	if result.Outcome == domain.ScheduleFailed {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(scheduleResponse{
		EventID:    eventID,
		Outcome:    result.Outcome.String(),
		Reason:     result.Reason,
		Added:      nonNilInts(result.Added),
		Duplicates: nonNilInts(result.Duplicates),
		PastDue:    nonNilInts(result.PastDue),
	})
}

func (h *EventHandler) GetJob(c *fiber.Ctx) error {
	info, err := h.jobs.Get(c.UserContext(), strings.TrimSpace(c.Params("jobId")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(jobResponse{
		ID:            info.ID,
		State:         info.State.String(),
		EventID:       info.Payload.EventID,
		OffsetMinutes: info.Payload.OffsetMinutes,
		Attempts:      info.Attempts,
		MaxAttempts:   info.MaxAttempts,
		RunAt:         info.RunAt.UTC(),
		LastError:     info.LastError,
		CreatedAt:     info.CreatedAt.UTC(),
		FinishedAt:    info.FinishedAt,
	})
}

func parseListParams(c *fiber.Ctx) (repository.EventListParams, error) {
	params := repository.EventListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.EventListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.EventListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		params.UserID = &userID
	}

	return params, nil
}

func requestToCreateInput(req createEventRequest) (service.CreateEventInput, error) {
	rawStart := strings.TrimSpace(req.StartISO)
	if rawStart == "" {
		return service.CreateEventInput{}, fmt.Errorf("%w: startIso is required", domain.ErrValidation)
	}
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return service.CreateEventInput{}, fmt.Errorf("%w: startIso must be RFC3339", domain.ErrValidation)
	}

	return service.CreateEventInput{
		Title:                  req.Title,
		AttendeeName:           req.AttendeeName,
		AttendeeEmail:          req.AttendeeEmail,
		Description:            req.Description,
		Start:                  start,
		DurationMinutes:        req.DurationMinutes,
		Timezone:               req.Timezone,
		CalendarID:             req.CalendarID,
		HTMLLink:               req.HTMLLink,
		RemindersEnabled:       req.RemindersEnabled,
		ReminderOffsetsMinutes: req.ReminderOffsetsMinutes,
		IdempotencyKey:         req.IdempotencyKey,
	}, nil
}

func toEventResponse(e *domain.Event) eventResponse {
	if e == nil {
		return eventResponse{}
	}

	return eventResponse{
		ID:                 e.ID,
		UserID:             e.UserID,
		Title:              e.Title,
		AttendeeName:       e.AttendeeName,
		Description:        e.Description,
		CalendarID:         e.CalendarID,
		HTMLLink:           e.HTMLLink,
		Start:              e.Start.UTC(),
		End:                e.End.UTC(),
		Timezone:           e.Timezone,
		ReminderConfig:     e.ReminderConfig,
		NotificationStatus: e.NotificationStatus,
		IdempotencyKey:     e.IdempotencyKey,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toNotificationLogResponse(entry domain.NotificationLogEntry) notificationLogResponse {
	return notificationLogResponse{
		ID:                entry.ID,
		Kind:              entry.Kind.String(),
		OffsetMinutes:     entry.OffsetMinutes,
		Status:            entry.Status.String(),
		Recipient:         entry.Recipient,
		ProviderMessageID: entry.ProviderMessageID,
		Error:             entry.Error,
		Reason:            entry.Reason,
		Attempt:           entry.Attempt,
		Terminal:          entry.Terminal,
		CreatedAt:         entry.CreatedAt,
	}
}

func nonNilInts(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
