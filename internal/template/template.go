// Package template renders the three reminder emails. Rendering is pure: the
// same input always yields byte-identical subject and body.
package template

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"time"
	"unicode/utf8"

	"coachly/internal/model"
)

const (
	maxExcerptLen = 50
	ellipsis      = "..."
	deadlineFmt   = "January 2, 2006"
)

// Email is a rendered message.
type Email struct {
	Subject string
	Body    string
}

// Links are the preference management URLs embedded in every email.
type Links struct {
	Preferences string
	Unsubscribe string
}

// NewLinks embeds token verbatim. Tokens are URL-safe by construction.
func NewLinks(baseURL, token string) Links {
	base := strings.TrimRight(baseURL, "/")
	return Links{
		Preferences: base + "/email-preferences?token=" + token,
		Unsubscribe: base + "/unsubscribe?token=" + token,
	}
}

type FollowUpData struct {
	Name       string
	Commitment model.Commitment
	Token      string
	Now        time.Time
}

type WeeklyData struct {
	Name        string
	Commitments []model.Commitment
	Token       string
	Now         time.Time
}

type OverdueData struct {
	Name        string
	Commitments []model.Commitment
	Token       string
	Now         time.Time
}

type item struct {
	Action   string
	Deadline string
	Days     string
	Progress string
}

type view struct {
	Greeting string
	Intro    string
	Items    []item
	Links    Links
}

// Renderer holds the parsed templates, the public base URL and the location
// deadlines are displayed in.
type Renderer struct {
	baseURL  string
	location *time.Location
	followUp *htmltemplate.Template
	weekly   *htmltemplate.Template
	overdue  *htmltemplate.Template
}

func NewRenderer(baseURL string, location *time.Location) *Renderer {
	if location == nil {
		location = time.UTC
	}
	return &Renderer{
		baseURL:  baseURL,
		location: location,
		followUp: htmltemplate.Must(htmltemplate.New("follow_up").Parse(layout(followUpContent))),
		weekly:   htmltemplate.Must(htmltemplate.New("weekly").Parse(layout(listContent))),
		overdue:  htmltemplate.Must(htmltemplate.New("overdue").Parse(layout(listContent))),
	}
}

// FirstFollowUp renders the one-time reminder sent three days after creation.
func (r *Renderer) FirstFollowUp(d FollowUpData) (Email, error) {
	c := d.Commitment
	v := view{
		Greeting: greeting(d.Name),
		Intro:    "A few days ago you committed to something. How is it going?",
		Items: []item{{
			Action:   c.Action,
			Deadline: DeadlineText(c.Deadline, r.location),
			Days:     ageText(c.CreatedAt, d.Now),
			Progress: progressText(c.Progress),
		}},
		Links: NewLinks(r.baseURL, d.Token),
	}
	body, err := execute(r.followUp, v)
	if err != nil {
		return Email{}, err
	}
	return Email{
		Subject: `Checking in on your commitment: "` + Excerpt(c.Action) + `"`,
		Body:    body,
	}, nil
}

// WeeklyCheckIn renders the digest of every open commitment a user holds.
func (r *Renderer) WeeklyCheckIn(d WeeklyData) (Email, error) {
	n := len(d.Commitments)
	v := view{
		Greeting: greeting(d.Name),
		Intro:    fmt.Sprintf("You have %d open %s. Here is where things stand this week.", n, plural(n, "commitment", "commitments")),
		Links:    NewLinks(r.baseURL, d.Token),
	}
	for _, c := range d.Commitments {
		v.Items = append(v.Items, item{
			Action:   c.Action,
			Deadline: DeadlineText(c.Deadline, r.location),
			Days:     ageText(c.CreatedAt, d.Now),
			Progress: progressText(c.Progress),
		})
	}
	body, err := execute(r.weekly, v)
	if err != nil {
		return Email{}, err
	}
	return Email{
		Subject: fmt.Sprintf("Your Weekly Check-in: %d Active %s", n, plural(n, "Commitment", "Commitments")),
		Body:    body,
	}, nil
}

// OverdueAlert renders the alert for open commitments past their deadline.
func (r *Renderer) OverdueAlert(d OverdueData) (Email, error) {
	n := len(d.Commitments)
	v := view{
		Greeting: greeting(d.Name),
		Intro: fmt.Sprintf("%s passed %s deadline. Update it, reschedule it or let it go.",
			plural(n, "This commitment has", "These commitments have"), plural(n, "its", "their")),
		Links: NewLinks(r.baseURL, d.Token),
	}
	for _, c := range d.Commitments {
		days := 0
		if c.Deadline != nil {
			days = model.WholeDaysBetween(*c.Deadline, d.Now)
		}
		v.Items = append(v.Items, item{
			Action:   c.Action,
			Deadline: DeadlineText(c.Deadline, r.location),
			Days:     fmt.Sprintf("%d %s overdue", days, plural(days, "day", "days")),
			Progress: progressText(c.Progress),
		})
	}
	body, err := execute(r.overdue, v)
	if err != nil {
		return Email{}, err
	}
	return Email{
		Subject: fmt.Sprintf("%d %s Attention", n, plural(n, "Commitment Needs", "Commitments Need")),
		Body:    body,
	}, nil
}

// Excerpt truncates s to at most 50 characters, ending in "..." when cut.
func Excerpt(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxExcerptLen {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:maxExcerptLen-len(ellipsis)]), " ") + ellipsis
}

// DeadlineText is "Due January 2, 2006" in loc, or "No deadline".
func DeadlineText(deadline *time.Time, loc *time.Location) string {
	if deadline == nil {
		return "No deadline"
	}
	if loc == nil {
		loc = time.UTC
	}
	return "Due " + deadline.In(loc).Format(deadlineFmt)
}

func ageText(created, now time.Time) string {
	days := model.WholeDaysBetween(created, now)
	if days == 0 {
		return "Added today"
	}
	return fmt.Sprintf("Added %d %s ago", days, plural(days, "day", "days"))
}

func progressText(p *int) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%d%% done", *p)
}

func greeting(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Hi there,"
	}
	return "Hi " + strings.TrimSpace(name) + ","
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func execute(t *htmltemplate.Template, v view) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func layout(content string) string {
	return `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<p>{{.Greeting}}</p>
<p>{{.Intro}}</p>
` + content + `
<p style="font-size: 12px; color: #777;">
<a href="{{.Links.Preferences}}">Manage email preferences</a> |
<a href="{{.Links.Unsubscribe}}">Unsubscribe</a>
</p>
</body>
</html>
`
}

const followUpContent = `{{range .Items}}<blockquote>{{.Action}}</blockquote>
<p>{{.Deadline}} &middot; {{.Days}}{{if .Progress}} &middot; {{.Progress}}{{end}}</p>
{{end}}<p>Reply to your coach or mark it complete when you are done.</p>`

const listContent = `<ul>
{{range .Items}}<li><strong>{{.Action}}</strong><br>{{.Days}} &middot; {{.Deadline}}{{if .Progress}} &middot; {{.Progress}}{{end}}</li>
{{end}}</ul>`
