package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"jira-mention-notifier/pkg/notifier"
)

type credential struct {
	Name  string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

func (credential) TableName() string { return "credentials" }

type linkRow struct {
	JiraAccountID string `gorm:"primaryKey"`
	SlackUserID   string `gorm:"uniqueIndex;not null"`
}

func (linkRow) TableName() string { return "links" }

// SQLStore keeps credentials and links in SQLite through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLite opens the database at path and migrates the schema.
func NewSQLite(path string, logger *slog.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&credential{}, &linkRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("Database initialized", "path", path)
	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) get(ctx context.Context, name string) (string, error) {
	var c credential
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", notFound(name)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", name, err)
	}
	return c.Value, nil
}

func upsert(tx *gorm.DB, rows ...credential) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
}

func (s *SQLStore) set(ctx context.Context, name, value string) error {
	if err := upsert(s.db.WithContext(ctx), credential{Name: name, Value: value}); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// SlackToken returns the bot token stored by the Slack install flow.
func (s *SQLStore) SlackToken(ctx context.Context) (string, error) {
	return s.get(ctx, keySlackToken)
}

// SetSlackToken stores the bot token.
func (s *SQLStore) SetSlackToken(ctx context.Context, token string) error {
	return s.set(ctx, keySlackToken, token)
}

// JiraToken returns the current Jira access token.
func (s *SQLStore) JiraToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyJiraToken)
}

// SetJiraToken stores the Jira access token.
func (s *SQLStore) SetJiraToken(ctx context.Context, token string) error {
	return s.set(ctx, keyJiraToken, token)
}

// JiraRefreshToken returns the current Jira refresh token.
func (s *SQLStore) JiraRefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyJiraRefreshToken)
}

// SetJiraRefreshToken stores the Jira refresh token.
func (s *SQLStore) SetJiraRefreshToken(ctx context.Context, token string) error {
	return s.set(ctx, keyJiraRefreshToken, token)
}

// JiraInstance returns the cloud id and site URL of the connected Jira workspace.
func (s *SQLStore) JiraInstance(ctx context.Context) (string, string, error) {
	cloudID, err := s.get(ctx, keyJiraCloudID)
	if err != nil {
		return "", "", err
	}
	siteURL, err := s.get(ctx, keyJiraURL)
	if err != nil {
		return "", "", err
	}
	return cloudID, siteURL, nil
}

// SetJiraInstance stores the cloud id and site URL in one statement.
func (s *SQLStore) SetJiraInstance(ctx context.Context, cloudID, siteURL string) error {
	err := upsert(s.db.WithContext(ctx),
		credential{Name: keyJiraCloudID, Value: cloudID},
		credential{Name: keyJiraURL, Value: siteURL})
	if err != nil {
		return fmt.Errorf("set jira instance: %w", err)
	}
	return nil
}

// Link returns the link record for a Jira account.
func (s *SQLStore) Link(ctx context.Context, jiraAccountID string) (*notifier.LinkRecord, error) {
	var row linkRow
	err := s.db.WithContext(ctx).Where("jira_account_id = ?", jiraAccountID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("link " + jiraAccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get link %s: %w", jiraAccountID, err)
	}
	return &notifier.LinkRecord{JiraAccountID: row.JiraAccountID, SlackUserID: row.SlackUserID}, nil
}

// JiraIDBySlackID returns the Jira account linked to a Slack user.
func (s *SQLStore) JiraIDBySlackID(ctx context.Context, slackUserID string) (string, error) {
	var row linkRow
	err := s.db.WithContext(ctx).Where("slack_user_id = ?", slackUserID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", notFound("slack user " + slackUserID)
	}
	if err != nil {
		return "", fmt.Errorf("get jira id for %s: %w", slackUserID, err)
	}
	return row.JiraAccountID, nil
}

// SaveLink replaces any link held by either side inside one transaction.
func (s *SQLStore) SaveLink(ctx context.Context, rec *notifier.LinkRecord) error {
	if err := validateLink(rec); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("jira_account_id = ? OR slack_user_id = ?", rec.JiraAccountID, rec.SlackUserID).
			Delete(&linkRow{}).Error; err != nil {
			return err
		}
		return tx.Create(&linkRow{JiraAccountID: rec.JiraAccountID, SlackUserID: rec.SlackUserID}).Error
	})
	if err != nil {
		return fmt.Errorf("save link: %w", err)
	}

	s.logger.Info("Link saved", "jira_account_id", rec.JiraAccountID, "slack_user_id", rec.SlackUserID)
	return nil
}

// RemoveLink deletes the row for slackUserID. The row carries both directions.
func (s *SQLStore) RemoveLink(ctx context.Context, slackUserID string) (bool, error) {
	res := s.db.WithContext(ctx).Where("slack_user_id = ?", slackUserID).Delete(&linkRow{})
	if res.Error != nil {
		return false, fmt.Errorf("remove link: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.logger.Info("Link removed", "slack_user_id", slackUserID)
	return true, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
