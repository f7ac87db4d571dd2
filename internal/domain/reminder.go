package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const reminderJobPrefix = "reminder"

// ReminderJobID returns the deduplication key for an (event, offset) pair.
func ReminderJobID(eventID string, offsetMinutes int) string {
	return fmt.Sprintf("%s:%s:%d", reminderJobPrefix, eventID, offsetMinutes)
}

// ParseReminderJobID splits a job id produced by ReminderJobID.
func ParseReminderJobID(jobID string) (string, int, error) {
	parts := strings.Split(jobID, ":")
	if len(parts) != 3 || parts[0] != reminderJobPrefix || parts[1] == "" {
		return "", 0, fmt.Errorf("%w: malformed reminder job id %q", ErrValidation, jobID)
	}
	offset, err := strconv.Atoi(parts[2])
	if err != nil || offset <= 0 {
		return "", 0, fmt.Errorf("%w: malformed reminder offset in %q", ErrValidation, jobID)
	}
	return parts[1], offset, nil
}

// ReminderRunAt computes when the reminder for offsetMinutes fires.
func ReminderRunAt(start time.Time, offsetMinutes int) time.Time {
	return start.Add(-time.Duration(offsetMinutes) * time.Minute)
}

// ReminderPayload is the job body carried through the queue.
type ReminderPayload struct {
	EventID       string `json:"eventId"`
	OffsetMinutes int    `json:"offsetMinutes"`
}

func (p ReminderPayload) Validate() error {
	if strings.TrimSpace(p.EventID) == "" {
		return fmt.Errorf("%w: eventId is required", ErrValidation)
	}
	if p.OffsetMinutes <= 0 || p.OffsetMinutes > MaxReminderOffsetMinutes {
		return fmt.Errorf("%w: invalid offsetMinutes %d", ErrValidation, p.OffsetMinutes)
	}
	return nil
}

// JobID returns the deduplication key for the payload.
func (p ReminderPayload) JobID() string {
	return ReminderJobID(p.EventID, p.OffsetMinutes)
}
