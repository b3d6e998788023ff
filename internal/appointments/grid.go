package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// defaultIntervalMinutes is the slot spacing when a grid request names none.
const defaultIntervalMinutes = 60

// AddRequest describes slots to create: a single time, one slot per day over
// a date range, or an interval grid when endHour is present. Pointer fields
// distinguish absent from zero, hour 0 is a valid midnight slot.
type AddRequest struct {
	DoctorName      string `json:"doctorName"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate,omitempty"`
	StartHour       *int   `json:"startHour"`
	StartMinute     *int   `json:"startMinute,omitempty"`
	EndHour         *int   `json:"endHour,omitempty"`
	EndMinute       *int   `json:"endMinute,omitempty"`
	IntervalMinutes *int   `json:"intervalMinutes,omitempty"`
}

// BuildSlots expands the request into concrete start times in the clinic
// timezone. All returned errors are caller input problems.
func BuildSlots(req *AddRequest, loc *time.Location) ([]time.Time, error) {
	if strings.TrimSpace(req.DoctorName) == "" {
		return nil, errors.New("doctorName is required")
	}
	if strings.TrimSpace(req.StartDate) == "" {
		return nil, errors.New("startDate is required")
	}
	startDate, err := time.ParseInLocation(dateLayout, req.StartDate, loc)
	if err != nil {
		return nil, fmt.Errorf("startDate must be YYYY-MM-DD: %q", req.StartDate)
	}
	endDate := startDate
	if strings.TrimSpace(req.EndDate) != "" {
		endDate, err = time.ParseInLocation(dateLayout, req.EndDate, loc)
		if err != nil {
			return nil, fmt.Errorf("endDate must be YYYY-MM-DD: %q", req.EndDate)
		}
		if endDate.Before(startDate) {
			return nil, errors.New("endDate is before startDate")
		}
	}

	if req.StartHour == nil {
		return nil, errors.New("startHour is required")
	}
	startClock, err := clockMinutes("start", *req.StartHour, minuteOrZero(req.StartMinute))
	if err != nil {
		return nil, err
	}

	interval := defaultIntervalMinutes
	if req.IntervalMinutes != nil {
		interval = *req.IntervalMinutes
		if interval < 1 {
			return nil, errors.New("intervalMinutes must be at least 1")
		}
	}

	endClock := -1
	if req.EndHour != nil {
		endClock, err = clockMinutes("end", *req.EndHour, minuteOrZero(req.EndMinute))
		if err != nil {
			return nil, err
		}
		if endClock < startClock {
			return nil, errors.New("end time is before start time")
		}
	}

	var slots []time.Time
	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		if endClock < 0 {
			slots = append(slots, day.Add(time.Duration(startClock)*time.Minute))
			continue
		}
		for m := startClock; m <= endClock; m += interval {
			slots = append(slots, day.Add(time.Duration(m)*time.Minute))
		}
	}
	return slots, nil
}

// clockMinutes validates an hour:minute pair and flattens it to minutes
// since midnight.
func clockMinutes(label string, hour, minute int) (int, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%sHour must be between 0 and 23", label)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%sMinute must be between 0 and 59", label)
	}
	return hour*60 + minute, nil
}

func minuteOrZero(m *int) int {
	if m == nil {
		return 0
	}
	return *m
}
