package httputil

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Page size bounds shared by every list endpoint (dead letters, audit logs).
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// ParsePagination reads ?offset= and ?limit=. Offset defaults to 0, limit to
// DefaultPageLimit and may not exceed MaxPageLimit.
func ParsePagination(c *gin.Context) (offset, limit int, err error) {
	offset, ok := queryInt(c, "offset", 0)
	if !ok || offset < 0 {
		return 0, 0, fmt.Errorf("invalid offset parameter: must be a non-negative integer")
	}

	limit, ok = queryInt(c, "limit", DefaultPageLimit)
	if !ok || limit < 1 || limit > MaxPageLimit {
		return 0, 0, fmt.Errorf("invalid limit parameter: must be between 1 and %d", MaxPageLimit)
	}

	return offset, limit, nil
}

// ParseTimeRange reads two optional RFC3339 boundaries, converted to UTC. Either may
// be nil; when both are set from must not be after to.
func ParseTimeRange(c *gin.Context, fromParam, toParam string) (from, to *time.Time, err error) {
	if from, err = queryTime(c, fromParam); err != nil {
		return nil, nil, err
	}
	if to, err = queryTime(c, toParam); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, fmt.Errorf("%s must be before or equal to %s", fromParam, toParam)
	}
	return from, to, nil
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: must be RFC3339 (e.g., 2026-02-01T00:00:00Z)", name)
	}
	utc := parsed.UTC()
	return &utc, nil
}
