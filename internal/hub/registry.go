package hub

import (
	"encoding/json"
	"errors"
	"time"

	"qrypub/internal/models"
	"qrypub/pkg/protocol"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("instance not found")

// Registry stores registered instances and their reports.
type Registry struct {
	db *gorm.DB
}

// OpenRegistry opens (and migrates) a sqlite database at dsn.
func OpenRegistry(dsn string) (*Registry, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway
	sqlDB.SetMaxOpenConns(1)
	return NewRegistry(db)
}

func NewRegistry(db *gorm.DB) (*Registry, error) {
	if err := db.AutoMigrate(&models.Instance{}, &models.UsageReport{}); err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

// Register adds publicKey, or renames it when already known.
func (r *Registry) Register(publicKey, name string) (*models.Instance, error) {
	inst, err := r.Get(publicKey)
	switch {
	case err == nil:
		if name != "" && name != inst.Name {
			inst.Name = name
			if err := r.db.Save(inst).Error; err != nil {
				return nil, err
			}
		}
		return inst, nil
	case errors.Is(err, ErrNotFound):
		inst = &models.Instance{PublicKey: publicKey, Name: name}
		if err := r.db.Create(inst).Error; err != nil {
			return nil, err
		}
		return inst, nil
	default:
		return nil, err
	}
}

func (r *Registry) Get(publicKey string) (*models.Instance, error) {
	var inst models.Instance
	err := r.db.Where("public_key = ?", publicKey).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *Registry) List() ([]models.Instance, error) {
	var out []models.Instance
	err := r.db.Order("id").Find(&out).Error
	return out, err
}

// SetMetadata stores the latest instance-metadata payload.
func (r *Registry) SetMetadata(publicKey string, meta json.RawMessage) error {
	res := r.db.Model(&models.Instance{}).Where("public_key = ?", publicKey).Update("metadata", string(meta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch records that the instance was seen at t.
func (r *Registry) Touch(publicKey string, t time.Time) error {
	return r.db.Model(&models.Instance{}).Where("public_key = ?", publicKey).Update("last_seen", t).Error
}

// AddUsageReport persists an api_usage_map payload.
func (r *Registry) AddUsageReport(publicKey string, data protocol.ApiUsageMapData) error {
	inst, err := r.Get(publicKey)
	if err != nil {
		return err
	}
	return r.db.Create(&models.UsageReport{
		InstanceID: inst.ID,
		Usage:      data.Usage,
		FromTs:     data.FromTs,
		ToTs:       data.ToTs,
	}).Error
}

// UsageReports returns the reports of one instance, newest first.
func (r *Registry) UsageReports(publicKey string) ([]models.UsageReport, error) {
	inst, err := r.Get(publicKey)
	if err != nil {
		return nil, err
	}
	var out []models.UsageReport
	err = r.db.Where("instance_id = ?", inst.ID).Order("id desc").Find(&out).Error
	return out, err
}

func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
