package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/models"
)

var DB *gorm.DB

func InitMySQL(dsn string) error {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return err
	}
	if err := Migrate(db); err != nil {
		return err
	}
	DB = db
	log.Println("MySQL connected and migrated.")
	return nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Job{},
		&models.Task{},
		&models.JobTask{},
		&models.JobTaskLog{},
	)
}
