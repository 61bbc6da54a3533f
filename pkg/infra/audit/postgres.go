package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
)

// ThreatEventRecord is the persisted shape of one threat event.
type ThreatEventRecord struct {
	ID            string         `gorm:"primaryKey;type:uuid"`
	Timestamp     time.Time      `gorm:"index"`
	Identity      string         `gorm:"index;size:255"`
	SourceAddress string         `gorm:"size:64"`
	UserAgent     string         `gorm:"size:512"`
	Endpoint      string         `gorm:"size:512"`
	RiskScore     float64
	ThreatLevel   string         `gorm:"index;size:16"`
	Signatures    pq.StringArray `gorm:"type:text[]"`
	Actions       pq.StringArray `gorm:"type:text[]"`
	Decision      string         `gorm:"size:16"`
}

func (ThreatEventRecord) TableName() string {
	return "threat_events"
}

// PostgresConfig points the audit store at its database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStore is the long-term threat event sink.
type PostgresStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewPostgresStore(cfg PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := db.AutoMigrate(&ThreatEventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate threat_events table: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host": cfg.Host,
		"db":   cfg.DBName,
	}).Info("audit store connected")

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

func (s *PostgresStore) Write(ctx context.Context, events []threat.Event) error {
	if len(events) == 0 {
		return nil
	}

	records := make([]ThreatEventRecord, 0, len(events))
	for _, event := range events {
		actions := make([]string, 0, len(event.Actions))
		for _, a := range event.Actions {
			actions = append(actions, string(a))
		}
		records = append(records, ThreatEventRecord{
			ID:            event.ID,
			Timestamp:     event.Timestamp,
			Identity:      event.Identity,
			SourceAddress: event.SourceAddress,
			UserAgent:     truncate(event.UserAgent, 512),
			Endpoint:      truncate(event.Endpoint, 512),
			RiskScore:     event.RiskScore,
			ThreatLevel:   string(event.ThreatLevel),
			Signatures:    pq.StringArray(event.Signatures),
			Actions:       pq.StringArray(actions),
			Decision:      string(event.Decision),
		})
	}

	if err := s.db.WithContext(ctx).CreateInBatches(records, len(records)).Error; err != nil {
		return fmt.Errorf("failed to insert threat events: %w", err)
	}
	return nil
}

// Ping verifies the connection for the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			s.logger.WithError(err).Warn("audit store close failed")
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}
