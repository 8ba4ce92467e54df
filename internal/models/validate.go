package models

import (
	"fmt"
	"net/url"
	"strings"
)

type JSONErrors map[string]map[string]string

// TargetInput is the body of a create request.
type TargetInput struct {
	URL                  string  `json:"url" yaml:"url"`
	Name                 *string `json:"name" yaml:"name"`
	CheckIntervalSeconds *int    `json:"check_interval_seconds" yaml:"interval"`
	Enabled              *bool   `json:"enabled" yaml:"enabled"`
}

func (in TargetInput) Validate() JSONErrors {
	errors := JSONErrors{}

	if msg := validateURL(in.URL); msg != "" {
		errors["url"] = map[string]string{"error": msg}
	}

	if in.CheckIntervalSeconds != nil {
		if msg := validateInterval(*in.CheckIntervalSeconds); msg != "" {
			errors["check_interval_seconds"] = map[string]string{"error": msg}
		}
	}

	return errors
}

// Target builds the model with defaults applied. Call Validate first.
func (in TargetInput) Target() WatchTarget {
	t := WatchTarget{
		URL:                  strings.TrimSpace(in.URL),
		Name:                 in.Name,
		CheckIntervalSeconds: DefaultCheckInterval,
		Enabled:              true,
	}
	if in.CheckIntervalSeconds != nil {
		t.CheckIntervalSeconds = *in.CheckIntervalSeconds
	}
	if in.Enabled != nil {
		t.Enabled = *in.Enabled
	}
	return t
}

func (p TargetPatch) Validate() JSONErrors {
	errors := JSONErrors{}

	if p.URL != nil {
		if msg := validateURL(*p.URL); msg != "" {
			errors["url"] = map[string]string{"error": msg}
		}
	}

	if p.CheckIntervalSeconds != nil {
		if msg := validateInterval(*p.CheckIntervalSeconds); msg != "" {
			errors["check_interval_seconds"] = map[string]string{"error": msg}
		}
	}

	if p.ClearName && p.Name != nil {
		errors["name"] = map[string]string{"error": "cannot be set and cleared at once."}
	}

	return errors
}

func validateInterval(seconds int) string {
	if seconds < 1 || seconds > MaxCheckInterval {
		return fmt.Sprintf("must be between 1 and %d.", MaxCheckInterval)
	}
	return ""
}

func validateURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "required."
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "invalid url."
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "scheme must be http or https."
	}
	if u.Host == "" {
		return "host is required."
	}

	return ""
}
