package receiver

import (
	"net/url"
	"strings"
)

// Placeholders published in Status.Identity before or instead of a real id.
const (
	IdentityPending = "pending"
	IdentityError   = "error"
)

// Status is what the on-screen reporter shows.
type Status struct {
	Identity string `yaml:"identity"`
	Link     string `yaml:"link"`
	Hint     string `yaml:"hint"`
}

// StatusReporter renders published status. It owns no state transitions.
type StatusReporter interface {
	Publish(s Status)
}

// StatusReporterFunc adapts a function to StatusReporter.
type StatusReporterFunc func(s Status)

func (f StatusReporterFunc) Publish(s Status) { f(s) }

// ShareLink builds the link a sender opens to reach identity.
func ShareLink(baseURL, identity string) string {
	if identity == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "to=" + url.QueryEscape(identity)
}
