package users

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alshifa-health/clinic-appointments/internal/classifier"
)

// User is a registered patient identity with attendance history. Identity is
// the userName, matched case-insensitively; counters and category feed the
// reminder plan and the admission gate.
type User struct {
	ID              uuid.UUID           `json:"-"`
	UserName        string              `json:"userName"`
	DisplayName     *string             `json:"displayName,omitempty"`
	Phone           *string             `json:"phone,omitempty"`
	NotifyChannelID *string             `json:"-"`
	AttendedCount   int                 `json:"-"`
	MissedCount     int                 `json:"-"`
	Score           int                 `json:"-"`
	Category        classifier.Category `json:"-"`
	CreatedAt       time.Time           `json:"-"`
	UpdatedAt       time.Time           `json:"-"`
}

// AttendanceRate is the derived percentage in [0, 100].
func (u *User) AttendanceRate() float64 {
	return classifier.Rate(u.AttendedCount, u.MissedCount)
}

// TotalEvents is the number of recorded attendance outcomes.
func (u *User) TotalEvents() int {
	return u.AttendedCount + u.MissedCount
}

// NotifyName is the name substituted into message templates.
func (u *User) NotifyName() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.UserName
}

// Linked reports whether a messenger channel is bound to the user.
func (u *User) Linked() bool {
	return u.NotifyChannelID != nil && *u.NotifyChannelID != ""
}

// Summary is the public API view of a user.
type Summary struct {
	UserName    string  `json:"userName"`
	DisplayName *string `json:"displayName,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

// AdminView extends Summary with the operational fields.
type AdminView struct {
	Summary
	AttendedCount  int     `json:"attendedCount"`
	MissedCount    int     `json:"missedCount"`
	AttendanceRate float64 `json:"attendanceRate"`
	Score          int     `json:"score"`
	Category       string  `json:"category"`
	NotifyLinked   bool    `json:"notifyLinked"`
}

// Summarize builds the public view.
func (u *User) Summarize() Summary {
	return Summary{
		UserName:    u.UserName,
		DisplayName: u.DisplayName,
		Phone:       u.Phone,
	}
}

// AdminSummarize builds the admin view.
func (u *User) AdminSummarize() AdminView {
	return AdminView{
		Summary:        u.Summarize(),
		AttendedCount:  u.AttendedCount,
		MissedCount:    u.MissedCount,
		AttendanceRate: u.AttendanceRate(),
		Score:          u.Score,
		Category:       u.Category.Label(),
		NotifyLinked:   u.Linked(),
	}
}

// RegisterRequest is the body of POST /users/register.
type RegisterRequest struct {
	UserName    string `json:"userName"`
	DisplayName string `json:"displayName,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Validate checks the request fields.
func (r *RegisterRequest) Validate() error {
	if strings.TrimSpace(r.UserName) == "" {
		return errors.New("userName is required")
	}
	return nil
}
