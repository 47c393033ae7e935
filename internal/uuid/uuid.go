// Package uuid provides identifier generation for queued offline operations.
package uuid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationPrefix starts every pending operation id.
const OperationPrefix = "offline_"

// suffixLen is the number of random characters after the timestamp.
const suffixLen = 9

var operationIDRegex = regexp.MustCompile(`^offline_[0-9]+_[0-9a-f]{9}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewOperationID returns an id of the form offline_<unix-millis>_<suffix>.
// The suffix is drawn from a fresh UUID v4, so two ids minted in the same
// millisecond still differ.
func NewOperationID(now time.Time) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")
	return OperationPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random[:suffixLen]
}

// IsOperationID checks if a string has the operation id shape.
func IsOperationID(s string) bool {
	return operationIDRegex.MatchString(s)
}

// OperationTime extracts the enqueue timestamp embedded in an operation id.
func OperationTime(id string) (time.Time, error) {
	if !IsOperationID(id) {
		return time.Time{}, fmt.Errorf("invalid operation id: %q", id)
	}
	parts := strings.Split(id, "_")
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid operation id timestamp: %w", err)
	}
	return time.UnixMilli(ms), nil
}
