package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	ErrorTypeUnknown DatabaseErrorType = iota
	ErrorTypeNotFound
	ErrorTypeDuplicateKey
	ErrorTypeDeadlock
	ErrorTypeConnectionError
)

func (t DatabaseErrorType) String() string {
	switch t {
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeDuplicateKey:
		return "duplicate_key"
	case ErrorTypeDeadlock:
		return "deadlock"
	case ErrorTypeConnectionError:
		return "connection"
	default:
		return "unknown"
	}
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// Retryable reports whether retrying the statement later may succeed.
func (e *DatabaseError) Retryable() bool {
	return e.Type == ErrorTypeDeadlock || e.Type == ErrorTypeConnectionError
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"connection lost",
	"can't connect",
	"dial tcp",
	"database is locked",
}

// ClassifyDBError classifies an audit store error.
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062: // ER_DUP_ENTRY
			return &DatabaseError{Type: ErrorTypeDuplicateKey, OriginalErr: err, MySQLErrCode: mysqlErr.Number, Message: "duplicate key constraint violation"}
		case 1213: // ER_LOCK_DEADLOCK
			return &DatabaseError{Type: ErrorTypeDeadlock, OriginalErr: err, MySQLErrCode: mysqlErr.Number, Message: "deadlock detected"}
		default:
			return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, MySQLErrCode: mysqlErr.Number, Message: "MySQL error"}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, keyword := range connectionKeywords {
		if strings.Contains(msg, keyword) {
			return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
		}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}
