package notifier

import (
	"bytes"
	"strings"
	"text/template"
	"time"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/messages"
)

// AlertNotice is everything an alert email shows.
type AlertNotice struct {
	EventName string
	ZoneName  string
	Type      messages.AlertType
	Count     int
	Capacity  int
	CRI       int
	Forecast  string
	Surge     bool
	Action    string
	At        time.Time
}

// StatusNotice reports an event registration decision to its organizer.
type StatusNotice struct {
	EventName string
	ZoneName  string
	Status    string
	Message   string
	At        time.Time
}

var funcs = template.FuncMap{
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	},
	"clock": func(t time.Time) string { return t.Format("15:04 PM") },
	"yesno": func(b bool) string {
		if b {
			return "YES"
		}
		return "NO"
	},
}

var alertBody = template.Must(template.New("alert").Funcs(funcs).Parse(`CrowdSense Automated Alert

Event: {{.EventName}}
Zone: {{.ZoneName}}

Current Crowd: {{.Count}}
Approved Capacity: {{.Capacity}}
CRI Score: {{.CRI}} ({{title (print .Type)}})
30-min Forecast: {{.Forecast}}
Surge Detected: {{yesno .Surge}}

Recommended Action:
{{.Action}}

Time: {{clock .At}}

This is an automated alert from CrowdSense.
`))

var statusBody = template.Must(template.New("status").Funcs(funcs).Parse(`CrowdSense System Notification

Event: {{.EventName}}
Zone: {{.ZoneName}}

Message:
{{.Message}}

Time: {{clock .At}}


Log in to the dashboard to see full details:
{{.Dashboard}}

This is an automated notification from CrowdSense.
`))

func alertSubject(n AlertNotice) string {
	switch n.Type {
	case messages.AlertCritical:
		return "🚨 Critical Crowd Risk Alert – " + n.ZoneName
	case messages.AlertHigh:
		return "⚠️ High Crowd Risk Warning – " + n.ZoneName
	case messages.AlertSurge:
		return "📈 Sudden Crowd Surge Detected – " + n.ZoneName
	default:
		return "CrowdSense Alert – " + n.ZoneName
	}
}

func statusSubject(n StatusNotice) string {
	switch n.Status {
	case "APPROVED":
		return "✅ Event Approved: " + n.EventName
	case "REJECTED":
		return "❌ Event Registration Rejected: " + n.EventName
	case "UPDATED":
		return "📝 Event Details Updated: " + n.EventName
	default:
		return "CrowdSense Event Update: " + n.EventName
	}
}

func renderAlert(n AlertNotice) (string, string, error) {
	if n.Action == "" {
		n.Action = "Monitor zone closely and consider restricting entry."
	}
	if n.Forecast == "" {
		n.Forecast = "N/A"
	}
	var b bytes.Buffer
	if err := alertBody.Execute(&b, n); err != nil {
		return "", "", err
	}
	return alertSubject(n), b.String(), nil
}

func renderStatus(n StatusNotice, dashboard string) (string, string, error) {
	if n.Message == "" {
		n.Message = "Your event status or details have been updated in the CrowdSense system."
	}
	var b bytes.Buffer
	err := statusBody.Execute(&b, struct {
		StatusNotice
		Dashboard string
	}{n, dashboard})
	if err != nil {
		return "", "", err
	}
	return statusSubject(n), b.String(), nil
}
