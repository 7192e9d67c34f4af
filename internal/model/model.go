package model

import (
	"context"
	"time"
)

// Status is the lifecycle state of a review row. Rows move forward
// Ready/Pending -> Loaded -> Sent; the only backward transition is an
// explicit reset of a Loaded batch back to Ready for rework.
type Status string

const (
	// StatusReady marks a sentence from the sentence database, usable as-is.
	StatusReady Status = "Ready"
	// StatusPending marks an AI candidate sentence awaiting approval.
	StatusPending Status = "Pending"
	// StatusLoaded marks rows locked into a worksheet batch.
	StatusLoaded Status = "Loaded"
	// StatusSent marks rows whose worksheet has been delivered.
	StatusSent Status = "Sent"
)

// Active reports whether the row still needs review attention.
func (s Status) Active() bool {
	return s == StatusReady || s == StatusPending
}

// Source identifies where a candidate sentence came from.
type Source string

const (
	SourceDB Source = "DB"
	SourceAI Source = "AI"
)

// ReviewRow is one record from the Review sheet: a candidate sentence
// for one vocabulary word at one school/level.
type ReviewRow struct {
	Timestamp string
	School    string
	Level     string
	Word      string
	Sentence  string
	Source    Source
	Status    Status
}

// Student is one record from the student roster sheet.
type Student struct {
	School       string
	Level        string
	Name         string
	ParentEmail  string
	TeacherEmail string
	Active       bool
}

// Question is an approved sentence ready for rendering. Content may
// contain inline markup (blank target and proper-noun spans).
type Question struct {
	Word    string `json:"word"`
	Content string `json:"content"`
	School  string `json:"school"`
	Level   string `json:"level"`
}

// BatchStatus is the lifecycle state of a locked worksheet batch.
type BatchStatus string

const (
	BatchLoaded BatchStatus = "loaded"
	BatchSent   BatchStatus = "sent"
	BatchReset  BatchStatus = "reset"
)

// Batch is the set of approved questions for one school+level
// combination, snapshotted when the reviewer locks it for rendering.
type Batch struct {
	ID        string      `json:"id"`
	School    string      `json:"school"`
	Level     string      `json:"level"`
	Status    BatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Questions []Question  `json:"questions,omitempty"`
	// Timestamps of the review rows folded into this batch, used for
	// status write-back.
	RowKeys []string `json:"row_keys,omitempty"`
}

// DeliveryStatus records the outcome of one email dispatch attempt.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// Delivery is one audit row for an attempted worksheet email.
type Delivery struct {
	ID          int64          `json:"id"`
	BatchID     string         `json:"batch_id"`
	StudentName string         `json:"student_name"`
	Email       string         `json:"email"`
	Status      DeliveryStatus `json:"status"`
	Detail      string         `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// User is an operator account for the admin API.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}
