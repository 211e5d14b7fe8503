// Package validator checks job creation requests and reports failures per
// field.
package validator

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/internal/ingestion"
)

const (
	maxJobsPerRequest = 100
	maxURLLength      = 2048
	maxUserLength     = 255
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateJobsCreate requires at least one job, each with an absolute http
// or https stream URL.
func ValidateJobsCreate(req *ingestion.JobsCreateRequest) error {
	errs := make(map[string]string)

	switch {
	case len(req.Jobs) == 0:
		errs["jobs"] = "at least one job is required"
	case len(req.Jobs) > maxJobsPerRequest:
		errs["jobs"] = fmt.Sprintf("at most %d jobs per request", maxJobsPerRequest)
	}
	for i, job := range req.Jobs {
		if msg := checkStreamURL(job.StreamURL); msg != "" {
			errs[fmt.Sprintf("jobs[%d].stream_url", i)] = msg
		}
		if msg := CheckUser(job.User); msg != "" {
			errs[fmt.Sprintf("jobs[%d].user", i)] = msg
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateStreamURL checks a single stream URL.
func ValidateStreamURL(raw string) error {
	if msg := checkStreamURL(raw); msg != "" {
		return &ValidationError{Fields: map[string]string{"stream_url": msg}}
	}
	return nil
}

func checkStreamURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "stream_url is required"
	}
	if len(raw) > maxURLLength {
		return fmt.Sprintf("stream_url must be at most %d characters", maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "stream_url must be an absolute http(s) URL"
	}
	return ""
}

// CheckUser returns a message when user is unusable, or "" when it is fine.
// An empty user is allowed and means anonymous.
func CheckUser(user string) string {
	if len(user) > maxUserLength {
		return fmt.Sprintf("user must be at most %d characters", maxUserLength)
	}
	if user != "" && strings.TrimSpace(user) == "" {
		return "user must not be blank"
	}
	if strings.ContainsFunc(user, unicode.IsControl) {
		return "user must not contain control characters"
	}
	return ""
}
