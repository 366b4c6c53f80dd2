package submission

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBConfig selects the database
type DBConfig struct {
	Driver       string // postgres, mysql or sqlite
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

// OpenDB opens the database and migrates the tables
func OpenDB(conf DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch conf.Driver {
	case "postgres":
		dialector = postgres.Open(conf.DSN)
	case "mysql":
		dialector = mysql.New(mysql.Config{
			DSN:                       conf.DSN,
			DefaultStringSize:         256,
			SkipInitializeWithVersion: false,
		})
	case "sqlite", "":
		dsn := conf.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
		// every connection to :memory: is a separate database
		if conf.MaxOpenConns == 0 {
			conf.MaxOpenConns = 1
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", conf.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		if conf.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(conf.MaxIdleConns)
		}
		if conf.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(conf.MaxOpenConns)
		}
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Problem{}); err != nil {
		return fmt.Errorf("migrate problem: %w", err)
	}
	if err := db.AutoMigrate(&Submission{}); err != nil {
		return fmt.Errorf("migrate submission: %w", err)
	}
	return nil
}
