package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/converter"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalBool(value string) (bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false, nil
	}
	return strconv.ParseBool(trimmed)
}

// parseOptionalTime accepts RFC 3339, a date in loc, or unix seconds.
func parseOptionalTime(value string, loc *time.Location) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.ParseInLocation(dateOnlyLayout, trimmed, loc); err == nil {
		return &parsed, nil
	}
	if unix, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(unix) && !math.IsInf(unix, 0) {
		parsed := converter.FromUnix(unix)
		return &parsed, nil
	}
	return nil, ErrInvalidTime
}

func parseTimeRange(start, end string, loc *time.Location) (converter.Range, error) {
	from, err := parseOptionalTime(start, loc)
	if err != nil {
		return converter.Range{}, err
	}
	to, err := parseOptionalTime(end, loc)
	if err != nil {
		return converter.Range{}, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return converter.Range{}, ErrInvalidTime
	}
	return converter.Range{Start: from, End: to}, nil
}
