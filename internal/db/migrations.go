package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"carinsure/internal/model"
)

// Migrations lists schema migrations in the order they are applied.
func Migrations() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		{
			ID: "20240101_create_users",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&model.User{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("users")
			},
		},
		{
			ID: "20240102_create_customer_insurances",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&model.CustomerInsurance{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("customer_insurances")
			},
		},
	}
}

func newMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	return gormigrate.New(db, gormigrate.DefaultOptions, Migrations())
}

// Migrate applies every pending migration.
func Migrate(db *gorm.DB) error {
	return newMigrator(db).Migrate()
}

// RollbackLast reverts the most recently applied migration.
func RollbackLast(db *gorm.DB) error {
	return newMigrator(db).RollbackLast()
}

// Reset drops all tables, including the migrations bookkeeping table.
func Reset(db *gorm.DB) error {
	return db.Migrator().DropTable(
		&model.CustomerInsurance{},
		&model.User{},
		gormigrate.DefaultOptions.TableName,
	)
}
