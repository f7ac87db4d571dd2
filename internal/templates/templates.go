// Package templates renders notification e-mails for an event, with every
// timestamp shown in the event's own timezone.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

const displayLayout = "Monday, January 2, 2006 at 3:04 PM MST"

//go:embed files/*.tmpl
var files embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(files, "files/*.html.tmpl"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(files, "files/*.txt.tmpl"))
)

// Rendered is a subject plus plain-text and HTML bodies.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type view struct {
	Title        string
	AttendeeName string
	Description  string
	Start        string
	End          string
	Link         string
	LeadTime     string
}

// Confirmation renders the "event confirmed" e-mail.
func Confirmation(event *domain.Event) (Rendered, error) {
	if event == nil {
		return Rendered{}, fmt.Errorf("%w: event is required", domain.ErrValidation)
	}

	return render("confirmation", fmt.Sprintf("Event confirmed: %s", event.Title), newView(event, 0))
}

// Reminder renders the reminder sent offsetMinutes before the event starts.
func Reminder(event *domain.Event, offsetMinutes int) (Rendered, error) {
	if event == nil {
		return Rendered{}, fmt.Errorf("%w: event is required", domain.ErrValidation)
	}

	subject := fmt.Sprintf("Reminder: %s in %d minutes", event.Title, offsetMinutes)
	return render("reminder", subject, newView(event, offsetMinutes))
}

// LeadTime describes an offset the way the reminder body does: whole hours
// from 60 minutes up, minutes below that.
func LeadTime(offsetMinutes int) string {
	if offsetMinutes >= 60 {
		return fmt.Sprintf("%d hour(s)", offsetMinutes/60)
	}
	return fmt.Sprintf("%d minute(s)", offsetMinutes)
}

// FormatInZone formats t for display in loc.
func FormatInZone(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(displayLayout)
}

func newView(event *domain.Event, offsetMinutes int) view {
	loc := event.Location()
	return view{
		Title:        event.Title,
		AttendeeName: event.AttendeeName,
		Description:  strings.TrimSpace(event.Description),
		Start:        FormatInZone(event.Start, loc),
		End:          FormatInZone(event.End, loc),
		Link:         strings.TrimSpace(event.HTMLLink),
		LeadTime:     LeadTime(offsetMinutes),
	}
}

func render(name string, subject string, v view) (Rendered, error) {
	var htmlBody bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&htmlBody, name+".html.tmpl", v); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s html: %w", name, err)
	}

	var textBody bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&textBody, name+".txt.tmpl", v); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s text: %w", name, err)
	}

	return Rendered{
		Subject: subject,
		Text:    strings.TrimSpace(textBody.String()),
		HTML:    strings.TrimSpace(htmlBody.String()),
	}, nil
}
