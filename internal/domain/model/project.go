package model

import (
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const maxProjectNameLen = 255

// Project represents a registered system under test.
type Project struct {
	ID          string    `json:"id"                    db:"id"`
	Name        string    `json:"name"                  db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	BaseURL     string    `json:"base_url"              db:"base_url"`
	CreatedAt   time.Time `json:"created_at"            db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"            db:"updated_at"`
}

// CreateProjectRequest represents parameters to create a Project.
type CreateProjectRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	BaseURL     string  `json:"base_url"`
}

// Validate validates CreateProjectRequest.
func (r *CreateProjectRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxProjectNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	return validateBaseURL(r.BaseURL)
}

// UpdateProjectRequest represents parameters to update a Project.
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	BaseURL     *string `json:"base_url,omitempty"`
}

// Validate validates UpdateProjectRequest.
func (r *UpdateProjectRequest) Validate() error {
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		if name == "" {
			return errors.New("name cannot be empty")
		}
		if utf8.RuneCountInString(name) > maxProjectNameLen {
			return errors.New("name cannot exceed 255 characters")
		}
	}
	if r.BaseURL != nil {
		return validateBaseURL(*r.BaseURL)
	}
	return nil
}

func validateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("base_url must be an absolute http(s) URL")
	}
	return nil
}
