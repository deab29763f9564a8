package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fleettrack/internal/models"
)

// InitDB opens the Postgres connection from environment variables and
// migrates the tracking schema.
func InitDB() (*gorm.DB, error) {
	// Load .env if present.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found – relying on env vars")
	}

	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "password")
	dbname := getEnv("DB_NAME", "fleettrack")
	sslmode := getEnv("DB_SSLMODE", "disable")
	timezone := getEnv("DB_TIMEZONE", "UTC")

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		host, user, password, dbname, port, sslmode, timezone,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	err = db.AutoMigrate(
		&models.LocationSample{},
		&models.TelemetryRecord{},
		&models.Geofence{},
		&models.AccidentZone{},
		&models.DeviceCredential{},
	)
	if err != nil {
		return nil, fmt.Errorf("auto-migration: %w", err)
	}

	return db, nil
}

// getEnv reads an environment variable or returns the provided default
func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists {
		return v
	}
	return defaultValue
}
