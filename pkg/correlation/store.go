// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package correlation persists the mapping between relayed messages and the
// copies they produced on the destination platform.
//
// The table layout (forward_sentMessage) is kept column-for-column with the
// deployed schema because external tooling reads it directly.
package correlation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// TableName is the name of the correlation table.
const TableName = "forward_sentMessage"

// Record links one outbound message to the inbound message it was relayed
// from. FromBot and ToBot are "platform:selfId" identifiers.
type Record struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FromMessageID string    `gorm:"column:fromMessageId;size:64;uniqueIndex:idx_forward_sent_tuple,priority:1" json:"fromMessageId"`
	FromBot       string    `gorm:"column:fromBot;size:64;uniqueIndex:idx_forward_sent_tuple,priority:2" json:"fromBot"`
	ToMessageID   string    `gorm:"column:toMessageId;size:64;uniqueIndex:idx_forward_sent_tuple,priority:4;index:idx_forward_sent_target,priority:1" json:"toMessageId"`
	ToBot         string    `gorm:"column:toBot;size:64;uniqueIndex:idx_forward_sent_tuple,priority:5;index:idx_forward_sent_target,priority:2" json:"toBot"`
	FromChannelID string    `gorm:"column:fromChannelId;size:64;uniqueIndex:idx_forward_sent_tuple,priority:3" json:"fromChannelId"`
	ToChannelID   string    `gorm:"column:toChannelId;size:64;uniqueIndex:idx_forward_sent_tuple,priority:6;index:idx_forward_sent_target,priority:3" json:"toChannelId"`
	Time          time.Time `gorm:"column:time" json:"time"`
}

// TableName implements gorm's tabler interface.
func (Record) TableName() string { return TableName }

// Store reads and writes correlation records.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// OpenSQLite opens (or creates) a SQLite database at path, applies the
// usual PRAGMAs and migrates the correlation table.
func OpenSQLite(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("failed to stat database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	return New(db, log)
}

// New wraps an existing database handle and migrates the correlation table.
func New(db *gorm.DB, log zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", TableName, err)
	}
	return &Store{
		db:  db,
		log: log.With().Str("component", "correlation").Logger(),
	}, nil
}

// Record inserts the given entries. Entries whose identity tuple already
// exists are left untouched, so re-delivered events do not duplicate rows.
// Writing zero entries is a no-op.
func (s *Store) Record(ctx context.Context, entries []Record) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	rows := make([]Record, len(entries))
	for i, e := range entries {
		e.ID = 0
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		rows[i] = e
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows)
	observeQuery("record", start, res.Error)
	if res.Error != nil {
		return fmt.Errorf("failed to record %d correlation entries: %w", len(entries), res.Error)
	}
	s.log.Debug().
		Int("entries", len(entries)).
		Int64("inserted", res.RowsAffected).
		Msg("Recorded correlation entries")
	return nil
}

// FindByTarget returns records whose outbound copy is (messageID, bot,
// channelID), i.e. the message was produced by this relay.
func (s *Store) FindByTarget(ctx context.Context, messageID, bot, channelID string) ([]Record, error) {
	return s.find(ctx, "target", messageID, map[string]any{
		"toMessageId": messageID,
		"toBot":       bot,
		"toChannelId": channelID,
	})
}

// FindBySource returns records whose inbound original is (messageID, bot,
// channelID), i.e. the message was relayed from there.
func (s *Store) FindBySource(ctx context.Context, messageID, bot, channelID string) ([]Record, error) {
	return s.find(ctx, "source", messageID, map[string]any{
		"fromMessageId": messageID,
		"fromBot":       bot,
		"fromChannelId": channelID,
	})
}

func (s *Store) find(ctx context.Context, direction, messageID string, filter map[string]any) ([]Record, error) {
	if messageID == "" {
		return nil, nil
	}
	start := time.Now()
	var records []Record
	err := s.db.WithContext(ctx).Where(filter).Order("id").Find(&records).Error
	observeQuery("find_by_"+direction, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to find correlation by %s: %w", direction, err)
	}
	return records, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
