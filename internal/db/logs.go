package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dataops-hub/flowbridge/internal/models"
)

// GetJobLogs returns the persisted log lines for a job, newest first.
func GetJobLogs(db *gorm.DB, jobID uint) ([]models.JobTaskLog, error) {
	var logs []models.JobTaskLog
	err := db.Where("job_id = ?", jobID).
		Order("log_timestamp DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// InsertLogIfAbsent inserts the row unless its fingerprint already exists.
// Reports whether a row was actually written.
func InsertLogIfAbsent(db *gorm.DB, entry *models.JobTaskLog) (bool, error) {
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
