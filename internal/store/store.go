/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package store persists installations, accounts and their positions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Seednode/cantina/internal/protocol"
)

// ErrNotLinked is returned when an installation has no account yet.
var ErrNotLinked = errors.New("installation is not linked to an account")

// Account is a person who has logged in through the OAuth provider at least
// once, along with their authoritative position.
type Account struct {
	ID                  int64  `gorm:"primaryKey"`
	ItchioID            int64  `gorm:"uniqueIndex; not null"`
	Username            string `gorm:"not null"`
	XOffset             float64
	HorizontalInput     float64
	LastUpdateTimestamp float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Installation is one client install. AccountID is set once the installation
// has been logged in.
type Installation struct {
	ID          string `gorm:"primaryKey; size:36"`
	AccountID   *int64 `gorm:"index"`
	Account     *Account
	AccessToken string
	CreatedAt   time.Time
	LastSeenAt  time.Time
}

func (a *Account) Profile() protocol.UserProfile {
	return protocol.UserProfile{
		ID:                  a.ID,
		Username:            a.Username,
		XOffset:             a.XOffset,
		HorizontalInput:     a.HorizontalInput,
		LastUpdateTimestamp: a.LastUpdateTimestamp,
	}
}

type Store struct {
	db *gorm.DB
}

// Open connects to dataSource and migrates the schema. postgres:// and
// postgresql:// URLs use the postgres driver; anything else is treated as a
// sqlite file path.
func Open(dataSource string, debug bool) (*Store, error) {
	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if debug {
		log = logger.Default.LogMode(logger.Info)
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dataSource, "postgres://") || strings.HasPrefix(dataSource, "postgresql://") {
		dialector = postgres.Open(dataSource)
	} else {
		dialector = sqlite.Open(dataSource)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	// sqlite allows a single writer; sharing one connection avoids busy errors.
	if _, ok := dialector.(*sqlite.Dialector); ok {
		database, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("error while getting current connection: %w", err)
		}
		database.SetMaxOpenConns(1)
	}

	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Account{}, &Installation{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	database, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}

	return nil
}

// LookupInstallation returns the installation with id, creating it if this is
// the first time it has been seen, and marks it as seen now.
func (s *Store) LookupInstallation(ctx context.Context, id uuid.UUID) (*Installation, error) {
	now := time.Now()
	installation := Installation{ID: id.String()}

	err := s.db.WithContext(ctx).
		Where(Installation{ID: id.String()}).
		Attrs(Installation{CreatedAt: now}).
		FirstOrCreate(&installation).Error
	if err != nil {
		return nil, fmt.Errorf("looking up installation %s: %w", id, err)
	}

	err = s.db.WithContext(ctx).Model(&installation).Update("last_seen_at", now).Error
	if err != nil {
		return nil, fmt.Errorf("touching installation %s: %w", id, err)
	}

	return &installation, nil
}

// InstallationProfile returns the profile of the account id is linked to, or
// ErrNotLinked.
func (s *Store) InstallationProfile(ctx context.Context, id uuid.UUID) (*protocol.UserProfile, error) {
	var installation Installation

	err := s.db.WithContext(ctx).Preload("Account").First(&installation, "id = ?", id.String()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotLinked
		}
		return nil, fmt.Errorf("loading profile for installation %s: %w", id, err)
	}

	if installation.Account == nil {
		return nil, ErrNotLinked
	}

	profile := installation.Account.Profile()

	return &profile, nil
}

// LinkInstallation finds or creates the account for the provider's user and
// links the installation to it, in one transaction.
func (s *Store) LinkInstallation(ctx context.Context, id uuid.UUID, itchioID int64, username, accessToken string) (protocol.AccountID, error) {
	var account Account

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(Account{ItchioID: itchioID}).
			Attrs(Account{Username: username, LastUpdateTimestamp: protocol.Now()}).
			FirstOrCreate(&account).Error
		if err != nil {
			return err
		}

		if account.Username != username {
			if err := tx.Model(&account).Update("username", username).Error; err != nil {
				return err
			}
		}

		installation := Installation{
			ID:          id.String(),
			AccountID:   &account.ID,
			AccessToken: accessToken,
			CreatedAt:   time.Now(),
			LastSeenAt:  time.Now(),
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"account_id", "access_token"}),
		}).Create(&installation).Error
	})
	if err != nil {
		return 0, fmt.Errorf("linking installation %s: %w", id, err)
	}

	return account.ID, nil
}

// Profiles returns the profiles of the given accounts, ordered by id.
func (s *Store) Profiles(ctx context.Context, accounts []protocol.AccountID) ([]protocol.UserProfile, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	var rows []Account
	if err := s.db.WithContext(ctx).Where("id IN ?", accounts).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	profiles := make([]protocol.UserProfile, 0, len(rows))
	for i := range rows {
		profiles = append(profiles, rows[i].Profile())
	}

	return profiles, nil
}

// SavePositions writes the position fields of each profile back to its account.
func (s *Store) SavePositions(ctx context.Context, profiles []protocol.UserProfile) error {
	if len(profiles) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range profiles {
			err := tx.Model(&Account{ID: p.ID}).Updates(map[string]any{
				"x_offset":              p.XOffset,
				"horizontal_input":      p.HorizontalInput,
				"last_update_timestamp": p.LastUpdateTimestamp,
			}).Error
			if err != nil {
				return fmt.Errorf("saving position of account %d: %w", p.ID, err)
			}
		}

		return nil
	})
}

// ApplyUpdate records a client's reported position, and its input if one was
// sent, as of now.
func (s *Store) ApplyUpdate(ctx context.Context, account protocol.AccountID, inputs *protocol.Inputs, xOffset, now float64) error {
	fields := map[string]any{
		"x_offset":              max(xOffset, 0),
		"last_update_timestamp": now,
	}
	if inputs != nil {
		fields["horizontal_input"] = min(max(inputs.HorizontalMovement, -1), 1)
	}

	if err := s.db.WithContext(ctx).Model(&Account{ID: account}).Updates(fields).Error; err != nil {
		return fmt.Errorf("applying update for account %d: %w", account, err)
	}

	return nil
}
