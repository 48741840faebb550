package db

import (
	"strings"

	"github.com/teranos/dailyix/errors"
)

// ErrDatabaseClosed is returned when a store is used after shutdown closed the handle.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err comes from a closed handle, either
// ErrDatabaseClosed or the raw database/sql message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether err is SQLite refusing a write because another
// connection holds the lock past the busy timeout.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
