package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config holds all configuration for the backend
type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	// Database: postgres when DATABASE_URL is set, local sqlite file otherwise
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DatabaseFile string `envconfig:"DATABASE_FILE" default:"mlstudio.db"`

	// H2O cluster
	H2OBaseURL string `envconfig:"H2O_BASE_URL" default:"http://localhost:54321"`

	// MinIO object storage
	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	DatasetBucket  string `envconfig:"DATASET_BUCKET" default:"datasets"`
	ExportBucket   string `envconfig:"EXPORT_BUCKET" default:"exports"`

	// Database handle
	DB *gorm.DB `ignored:"true"`
}

// New creates a new configuration instance from the environment
func New() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	log.Println("Configuration initialized successfully")
	return cfg, nil
}

// initDatabase initializes the database connection with optimized settings
func (c *Config) initDatabase() error {
	var dia gorm.Dialector
	if c.DatabaseURL != "" {
		dia = postgres.Open(c.DatabaseURL)
	} else {
		log.Printf("DATABASE_URL not set, using local sqlite database %s", c.DatabaseFile)
		dia = sqlite.Open(c.DatabaseFile)
	}

	db, err := gorm.Open(dia, &gorm.Config{
		// Optimize query performance
		PrepareStmt: true,
		// Skip default transaction for better performance
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if c.DatabaseURL != "" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// Auto-migrate database schema
	if err := db.AutoMigrate(&Dataset{}, &MLJob{}, &MLModel{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	c.DB = db
	log.Println("Database initialized successfully")
	return nil
}

// Close closes all connections
func (c *Config) Close() {
	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}
