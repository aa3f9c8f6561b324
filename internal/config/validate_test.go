package config

import (
	"strings"
	"testing"

	"batch-transcriber/internal/domain"
)

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(s *domain.Settings)
		field string
	}{
		{"performance mode", func(s *domain.Settings) { s.PerformanceMode = "turbo" }, "PerformanceMode"},
		{"export format", func(s *domain.Settings) { s.ExportFormat = "docx" }, "ExportFormat"},
		{"speaker range", func(s *domain.Settings) { s.MinSpeakers = 6; s.MaxSpeakers = 2 }, "MaxSpeakers"},
		{"lm studio url", func(s *domain.Settings) { s.LMStudioURL = "not a url" }, "LMStudioURL"},
		{"model name", func(s *domain.Settings) { s.ModelName = "" }, "ModelName"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.edit(&s)
			err := Validate(s)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("error %q does not mention %s", err, tc.field)
			}
		})
	}
}
