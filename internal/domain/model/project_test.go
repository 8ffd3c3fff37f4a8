package model

import (
	"strings"
	"testing"
)

func TestCreateProjectRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateProjectRequest
		wantErr bool
	}{
		{
			name: "valid",
			req:  CreateProjectRequest{Name: "checkout-api", BaseURL: "https://checkout.example.com"},
		},
		{
			name:    "empty name",
			req:     CreateProjectRequest{Name: "  ", BaseURL: "https://x.example.com"},
			wantErr: true,
		},
		{
			name:    "name too long",
			req:     CreateProjectRequest{Name: strings.Repeat("a", 256), BaseURL: "https://x.example.com"},
			wantErr: true,
		},
		{
			name:    "missing base url",
			req:     CreateProjectRequest{Name: "checkout-api"},
			wantErr: true,
		},
		{
			name:    "relative base url",
			req:     CreateProjectRequest{Name: "checkout-api", BaseURL: "/api/v1"},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			req:     CreateProjectRequest{Name: "checkout-api", BaseURL: "ftp://files.example.com"},
			wantErr: true,
		},
		{
			name: "http allowed",
			req:  CreateProjectRequest{Name: "checkout-api", BaseURL: "http://localhost:8080"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateProjectRequestValidate(t *testing.T) {
	empty := " "
	badURL := "not a url"
	goodURL := "https://api.example.com"

	t.Run("empty update is valid", func(t *testing.T) {
		req := UpdateProjectRequest{}
		if err := req.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("blank name rejected", func(t *testing.T) {
		req := UpdateProjectRequest{Name: &empty}
		if err := req.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("bad url rejected", func(t *testing.T) {
		req := UpdateProjectRequest{BaseURL: &badURL}
		if err := req.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("good url accepted", func(t *testing.T) {
		req := UpdateProjectRequest{BaseURL: &goodURL}
		if err := req.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
