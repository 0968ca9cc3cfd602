package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value violates unique constraint"), // postgres 23505
		strings.Contains(msg, "SQLSTATE 23505"),
		strings.Contains(msg, "UNIQUE constraint failed"): // sqlite 2067
		return true
	default:
		return false
	}
}
