package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Upload lifecycle states. An upload leaves StatusPending exactly once.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

type User struct {
	ID    int64
	Email string
}

// Upload is one upload-to-explanation job.
type Upload struct {
	ID         int64
	UID        string
	Filename   string
	UploadTime time.Time
	FinishTime time.Time // zero unless Status == StatusDone
	Status     string
	UserID     int64 // 0 when the upload has no owner
	Attempts   int
	LastError  string
}
