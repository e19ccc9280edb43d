package session

import (
	"errors"
	"testing"
	"time"
)

func TestProfileStudyEndAfter(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  string
		want time.Time
	}{
		{"later today", "17:30", time.Date(2026, 3, 10, 17, 30, 0, 0, time.UTC)},
		{"earlier rolls to tomorrow", "08:15", time.Date(2026, 3, 11, 8, 15, 0, 0, time.UTC)},
		{"exactly now rolls to tomorrow", "09:00", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Profile{Name: "Ana", StudyStart: "08:00", StudyEnd: tt.end}.StudyEndAfter(now)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("StudyEndAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"ok", Profile{Name: "Ana", StudyStart: "08:00", StudyEnd: "10:00"}, false},
		{"missing name", Profile{StudyStart: "08:00", StudyEnd: "10:00"}, true},
		{"bad start", Profile{Name: "Ana", StudyStart: "8am", StudyEnd: "10:00"}, true},
		{"bad end", Profile{Name: "Ana", StudyStart: "08:00", StudyEnd: "25:00"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("error %v does not wrap ErrInvalidProfile", err)
			}
		})
	}
}
