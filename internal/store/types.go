package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Document field names as seen by callers of the store.
const (
	FieldMicroProcessorStatus = "microProcessorStatus"
	FieldSensorStatus         = "sensorStatus"
	FieldLastUpdated          = "lastUpdated"
	FieldDistance             = "distance"
	FieldFillLevel            = "fillLevel"
	FieldBinType              = "binType"
	FieldLocation             = "location"
	FieldDeviceID             = "deviceId"
)

// ErrUnknownField is returned when an update names a field the store does not own.
var ErrUnknownField = errors.New("unknown document field")

// Document is a bin document keyed by field name.
type Document map[string]any

// Store is the path-addressable document store holding one document per bin
// at "<location>/<deviceId>".
type Store interface {
	// ReadDocument returns nil, nil when no document exists at path.
	ReadDocument(ctx context.Context, path string) (Document, error)
	// UpdateFields writes only the named fields, creating the document if needed.
	UpdateFields(ctx context.Context, path string, fields map[string]any) error
	// ResolveLocation maps name onto a stored location ignoring case.
	// It returns name unchanged when nothing matches.
	ResolveLocation(ctx context.Context, name string) (string, error)
}

// fieldColumns lists the writable fields and their SQL columns.
var fieldColumns = map[string]string{
	FieldMicroProcessorStatus: "micro_processor_status",
	FieldSensorStatus:         "sensor_status",
	FieldLastUpdated:          "last_updated",
	FieldDistance:             "distance",
	FieldFillLevel:            "fill_level",
	FieldBinType:              "bin_type",
}

func checkFields(fields map[string]any) error {
	for name := range fields {
		if _, ok := fieldColumns[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
	}
	return nil
}

func toFloat(name string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", name, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("field %s: unsupported type %T", name, v)
}

func toInt(name string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", name, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("field %s: unsupported type %T", name, v)
}

func toString(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", name, v)
	}
	return s, nil
}
