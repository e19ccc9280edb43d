package session

import (
	"fmt"
	"strings"
	"time"
)

const timeOfDayLayout = "15:04"

// Profile is the student profile captured by the profile form.
// StudyStart and StudyEnd are local times of day in HH:MM form.
type Profile struct {
	Name       string   `json:"name"`
	Grade      string   `json:"grade,omitempty"`
	Subjects   []string `json:"subjects,omitempty"`
	StudyStart string   `json:"studyStart"`
	StudyEnd   string   `json:"studyEnd"`
}

// Validate checks that both study times parse.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if _, err := time.Parse(timeOfDayLayout, p.StudyStart); err != nil {
		return fmt.Errorf("%w: study start %q: %v", ErrInvalidProfile, p.StudyStart, err)
	}
	if _, err := time.Parse(timeOfDayLayout, p.StudyEnd); err != nil {
		return fmt.Errorf("%w: study end %q: %v", ErrInvalidProfile, p.StudyEnd, err)
	}
	return nil
}

// StudyEndAfter combines the date of now with the profile's end time of day,
// rolling to the next day when that moment is not after now.
func (p Profile) StudyEndAfter(now time.Time) (time.Time, error) {
	tod, err := time.Parse(timeOfDayLayout, p.StudyEnd)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: study end %q: %v", ErrInvalidProfile, p.StudyEnd, err)
	}

	y, m, d := now.Date()
	end := time.Date(y, m, d, tod.Hour(), tod.Minute(), 0, 0, now.Location())
	if !end.After(now) {
		end = end.AddDate(0, 0, 1)
	}
	return end, nil
}
