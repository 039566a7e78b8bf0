package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

// newRepoDB opens a file-backed database through OpenSQLite so FK cascades
// and per-connection pragmas behave as in production.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// newBareDB opens an in-memory database with only the given models migrated.
func newBareDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedRoom(t *testing.T, db *gorm.DB, name string, members ...string) *domain.Chatroom {
	t.Helper()
	ps := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		ps = append(ps, domain.Participant{UserID: m, FirstName: m})
	}
	c, err := CreateChatroom(context.Background(), db, name, "", ps)
	if err != nil {
		t.Fatalf("CreateChatroom(%q): %v", name, err)
	}
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, roomID, sender, body string) *domain.ChatMessage {
	t.Helper()
	m := &domain.ChatMessage{ChatroomID: roomID, SenderID: sender, Body: body}
	if err := AppendMessage(context.Background(), db, m); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	return m
}
