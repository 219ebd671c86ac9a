// Package domain defines the persistence models for bot users and the
// asynchronous provider jobs they own. These types are mapped with GORM and
// form the relational half of the backend; conversational state lives in the
// session store instead.
package domain

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle label of a provider job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether s is absorbing. Terminal jobs never transition again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Notifies reports whether entering s should produce a user-facing message.
func (s JobStatus) Notifies() bool {
	return s == JobCompleted || s == JobFailed
}

// JobKind names the product feature that created a job.
type JobKind string

const (
	KindAvatar     JobKind = "avatar"
	KindEnhance    JobKind = "enhance"
	KindTranscript JobKind = "transcript"
)

// ParseJobKind normalizes s. Empty maps to KindAvatar; unknown kinds report false.
func ParseJobKind(s string) (JobKind, bool) {
	switch JobKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindAvatar, "":
		return KindAvatar, true
	case KindEnhance:
		return KindEnhance, true
	case KindTranscript:
		return KindTranscript, true
	}
	return "", false
}

// User is a Telegram user known to the bot.
//
// Fields:
//   - ID: surrogate primary key referenced by jobs.
//   - TelegramID: Telegram user id (unique).
//   - ChatID: chat binding used for outbound delivery; nil until the user
//     has opened a private chat with the bot.
//   - LanguageCode: IETF tag reported by Telegram, used for message copy.
type User struct {
	ID           uint64    `json:"id"            gorm:"primaryKey;autoIncrement"`
	TelegramID   int64     `json:"telegram_id"   gorm:"not null;uniqueIndex:ux_users_telegram"`
	ChatID       *int64    `json:"chat_id,omitempty"`
	Username     string    `json:"username"      gorm:"type:varchar(64);not null;default:''"`
	LanguageCode string    `json:"language_code" gorm:"type:varchar(16);not null;default:''"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Job is an asynchronous provider job (avatar training, photo enhancement,
// transcript processing) correlated to a user through RequestID.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RequestID: the provider's correlation id; unique.
//   - UserID: owner (FK to users, cascade on delete).
//   - ResourceName: human label shown to the user (e.g. avatar name).
//   - Status: PENDING until a webhook moves it to a terminal status.
//   - FinishedAt: set on the terminal transition.
//   - NotifiedAt: set once the user has been told; nil on a terminal job
//     means the message is still owed (see the reconciler).
//   - ReconcileClaimedAt: lease start of the reconciler currently resending
//     the message; a newer claim excludes other replicas.
//   - ReconcileAttempts: number of reconciler claims so far.
type Job struct {
	ID           string     `json:"id"            gorm:"type:char(36);primaryKey"`
	RequestID    string     `json:"request_id"    gorm:"type:varchar(128);not null;uniqueIndex:ux_jobs_request"`
	UserID       uint64     `json:"user_id"       gorm:"not null;index:idx_user_jobs,priority:1"`
	ResourceName string     `json:"resource_name" gorm:"type:varchar(255);not null;default:''"`
	Kind         JobKind    `json:"kind"          gorm:"type:varchar(16);not null;default:'avatar'"`
	Status       JobStatus  `json:"status"        gorm:"type:varchar(16);not null;default:'PENDING';index;check:status IN ('PENDING','COMPLETED','FAILED','CANCELLED')"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	NotifiedAt   *time.Time `json:"notified_at,omitempty" gorm:"index"`

	ReconcileClaimedAt *time.Time `json:"-"`
	ReconcileAttempts  int        `json:"-" gorm:"not null;default:0"`

	CreatedAt    time.Time  `json:"created_at"    gorm:"index:idx_user_jobs,priority:2"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// User is the owner. Jobs are cascade-deleted with their user.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }
