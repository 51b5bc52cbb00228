// Package db connects to the Postgres instance backing the error sink,
// grounded on the teacher's internal/data/db/postgres.go.
package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/runnerkv/runner/internal/config"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

// Open dials Postgres using POSTGRES_* environment variables and
// ensures the uuid-ossp extension the error sink's primary key default
// depends on is present.
func Open(appLog *logger.Logger) (*gorm.DB, error) {
	host := config.GetEnv("POSTGRES_HOST", "localhost", appLog)
	port := config.GetEnv("POSTGRES_PORT", "5432", appLog)
	user := config.GetEnv("POSTGRES_USER", "postgres", appLog)
	password := config.GetEnv("POSTGRES_PASSWORD", "", appLog)
	name := config.GetEnv("POSTGRES_NAME", "runner", appLog)

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, name,
	)

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return gdb, nil
}
