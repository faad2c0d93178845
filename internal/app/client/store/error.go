package store

import (
	"errors"
	"fmt"

	"edusync/internal/domain/entity"
)

var (
	ErrNotFound = errors.New("row not found")
	ErrClosed   = errors.New("store closed")
)

// StorageError - сбой локального хранилища (диск, квота, драйвер).
// Для операции он окончательный, повторять ее не нужно.
type StorageError struct {
	Op   string
	Kind entity.Kind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func storageErr(op string, kind entity.Kind, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Kind: kind, Err: err}
}
