package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"binwatch-backend/internal/model"
	"binwatch-backend/internal/parse"
)

// gormStore implements the Store interface on the bins table.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// ReadDocument loads the bin at path.
func (s *gormStore) ReadDocument(ctx context.Context, path string) (Document, error) {
	location, id, err := parse.ParsePath(path)
	if err != nil {
		return nil, err
	}

	var bin model.Bin
	err = s.db.WithContext(ctx).
		Where("location = ? AND device_id = ?", location, id).
		First(&bin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bin %s: %w", path, err)
	}
	return binDocument(bin), nil
}

// UpdateFields upserts the bin at path, touching only the named columns on conflict.
func (s *gormStore) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	location, id, err := parse.ParsePath(path)
	if err != nil {
		return err
	}
	if err := checkFields(fields); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	bin := model.Bin{Location: location, DeviceID: id}
	columns := make([]string, 0, len(fields)+1)
	for name, value := range fields {
		if err := assignField(&bin, name, value); err != nil {
			return err
		}
		columns = append(columns, fieldColumns[name])
	}
	sort.Strings(columns)
	columns = append(columns, "updated_at")

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "location"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&bin).Error
	if err != nil {
		return fmt.Errorf("failed to update bin %s: %w", path, err)
	}
	return nil
}

// ResolveLocation finds the stored spelling of a location name.
func (s *gormStore) ResolveLocation(ctx context.Context, name string) (string, error) {
	var locations []string
	err := s.db.WithContext(ctx).
		Model(&model.Bin{}).
		Distinct("location").
		Where("LOWER(location) = LOWER(?)", name).
		Limit(1).
		Pluck("location", &locations).Error
	if err != nil {
		return name, fmt.Errorf("failed to resolve location %q: %w", name, err)
	}
	if len(locations) == 0 {
		return name, nil
	}
	return locations[0], nil
}

func assignField(bin *model.Bin, name string, value any) error {
	var err error
	switch name {
	case FieldMicroProcessorStatus:
		bin.MicroProcessorStatus, err = toString(name, value)
	case FieldSensorStatus:
		bin.SensorStatus, err = toString(name, value)
	case FieldLastUpdated:
		bin.LastUpdated, err = toString(name, value)
	case FieldBinType:
		bin.BinType, err = toString(name, value)
	case FieldDistance:
		var f float64
		if f, err = toFloat(name, value); err == nil {
			bin.Distance = &f
		}
	case FieldFillLevel:
		var i int
		if i, err = toInt(name, value); err == nil {
			bin.FillLevel = &i
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return err
}

func binDocument(bin model.Bin) Document {
	doc := Document{
		FieldLocation: bin.Location,
		FieldDeviceID: bin.DeviceID,
	}
	if bin.MicroProcessorStatus != "" {
		doc[FieldMicroProcessorStatus] = bin.MicroProcessorStatus
	}
	if bin.SensorStatus != "" {
		doc[FieldSensorStatus] = bin.SensorStatus
	}
	if bin.LastUpdated != "" {
		doc[FieldLastUpdated] = bin.LastUpdated
	}
	if bin.BinType != "" {
		doc[FieldBinType] = bin.BinType
	}
	if bin.Distance != nil {
		doc[FieldDistance] = *bin.Distance
	}
	if bin.FillLevel != nil {
		doc[FieldFillLevel] = *bin.FillLevel
	}
	return doc
}
