package store

import (
	"bytes"
	"time"
)

// PendingOp - операция, еще не подтвержденная сервером
type PendingOp string

const (
	OpNone   PendingOp = "none"
	OpCreate PendingOp = "create"
	OpUpdate PendingOp = "update"
	OpDelete PendingOp = "delete"
)

// Status - состояние строки в очереди синхронизации
type Status string

const (
	StatusSynced  Status = "synced"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Row - строка таблицы сущности. Data - сериализованная сущность,
// Snapshot - последняя подтвержденная сервером версия (nil для еще не созданных).
// Все отметки времени в миллисекундах Unix.
type Row struct {
	ID               int64
	Data             []byte
	Snapshot         []byte
	LastSyncAt       int64
	PendingOp        PendingOp
	Status           Status
	RetryCount       int
	NextAttemptAt    int64
	LastError        string
	IdempotencyKey   string
	OfflineAvailable bool
	UpdatedAt        int64
}

// Predicate отбирает строки для GetAll и Observe
type Predicate func(Row) bool

// All пропускает все строки
func All(Row) bool { return true }

func (r Row) IsPending() bool {
	return r.PendingOp != "" && r.PendingOp != OpNone
}

func (r Row) clone() Row {
	r.Data = bytes.Clone(r.Data)
	r.Snapshot = bytes.Clone(r.Snapshot)
	return r
}

func (r Row) normalized() Row {
	if r.PendingOp == "" {
		r.PendingOp = OpNone
	}
	if r.Status == "" {
		if r.IsPending() {
			r.Status = StatusPending
		} else {
			r.Status = StatusSynced
		}
	}
	return r
}

func (r Row) equal(o Row) bool {
	return r.ID == o.ID &&
		bytes.Equal(r.Data, o.Data) &&
		bytes.Equal(r.Snapshot, o.Snapshot) &&
		r.LastSyncAt == o.LastSyncAt &&
		r.PendingOp == o.PendingOp &&
		r.Status == o.Status &&
		r.RetryCount == o.RetryCount &&
		r.NextAttemptAt == o.NextAttemptAt &&
		r.LastError == o.LastError &&
		r.IdempotencyKey == o.IdempotencyKey &&
		r.OfflineAvailable == o.OfflineAvailable &&
		r.UpdatedAt == o.UpdatedAt
}

func rowsEqual(a, b []Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

// Millis переводит время в формат отметок строки
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Time обратное к Millis
func Time(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
