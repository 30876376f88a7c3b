package model

import (
	"errors"
	"testing"
)

func TestCourse_DerivedFields(t *testing.T) {
	c := &Course{
		StudentIDs: []string{"a", "b"},
		Content:    []ContentItem{{Title: "intro", Type: ContentText}},
	}

	if c.StudentCount() != 2 {
		t.Errorf("StudentCount() = %d, want 2", c.StudentCount())
	}
	if c.ContentCount() != 1 {
		t.Errorf("ContentCount() = %d, want 1", c.ContentCount())
	}
	if c.Status() != CourseStatusDraft {
		t.Errorf("Status() = %q, want %q", c.Status(), CourseStatusDraft)
	}

	c.IsPublished = true
	v := c.View()
	if v.Status != CourseStatusPublished {
		t.Errorf("View().Status = %q, want %q", v.Status, CourseStatusPublished)
	}
	if v.StudentCount != 2 || v.ContentCount != 1 {
		t.Errorf("View() counts = %d/%d, want 2/1", v.StudentCount, v.ContentCount)
	}
}

func TestCourse_View_NilSlicesBecomeEmpty(t *testing.T) {
	v := (&Course{}).View()
	if v.Students == nil || v.Topics == nil || v.Content == nil {
		t.Error("View() should never expose nil slices")
	}
}

func TestGitHubProfile_PreferredEmail(t *testing.T) {
	tests := []struct {
		name   string
		emails []ProfileEmail
		want   string
	}{
		{"none", nil, ""},
		{"primary verified wins", []ProfileEmail{
			{Email: "a@example.com", Verified: true},
			{Email: "p@example.com", Primary: true, Verified: true},
		}, "p@example.com"},
		{"verified over unverified", []ProfileEmail{
			{Email: "u@example.com"},
			{Email: "v@example.com", Verified: true},
		}, "v@example.com"},
		{"fallback to first", []ProfileEmail{{Email: "f@example.com"}}, "f@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &GitHubProfile{Emails: tt.emails}
			if got := p.PreferredEmail(); got != tt.want {
				t.Errorf("PreferredEmail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUser_Public(t *testing.T) {
	u := &User{ID: "1", Username: "alice", GitHubID: "12345", Provider: ProviderGitHub}
	p := u.Public()
	if !p.IsGitHubUser {
		t.Error("IsGitHubUser should be true")
	}

	var nilUser *User
	if nilUser.Public() != nil {
		t.Error("Public() on nil user should be nil")
	}
}

func TestValidationError_OrNil(t *testing.T) {
	ve := &ValidationError{Entity: "course"}
	if ve.OrNil() != nil {
		t.Error("empty ValidationError should be nil")
	}

	ve.Add("duration", "too long")
	err := ve.OrNil()
	var target *ValidationError
	if !errors.As(err, &target) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if target.Violations[0].Field != "duration" {
		t.Errorf("Field = %q, want %q", target.Violations[0].Field, "duration")
	}
}

func TestDuplicateKeyError_Message(t *testing.T) {
	err := &DuplicateKeyError{Field: "username"}
	if err.Error() != "username already exists" {
		t.Errorf("Error() = %q", err.Error())
	}
}
