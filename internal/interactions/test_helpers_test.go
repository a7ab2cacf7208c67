package interactions

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustKey(t *testing.T, raw string) EntityKey {
	t.Helper()
	key, err := NewEntityKey(raw)
	if err != nil {
		t.Fatalf("unexpected entity key error: %v", err)
	}
	return key
}

func mustOp(t *testing.T, raw string) Op {
	t.Helper()
	op, err := ParseOp(raw)
	if err != nil {
		t.Fatalf("unexpected op error: %v", err)
	}
	return op
}

type recordingInvalidator struct {
	tags []string
}

func (r *recordingInvalidator) Invalidate(tags ...string) {
	r.tags = append(r.tags, tags...)
}

var testDatabaseSequence int

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	testDatabaseSequence++
	dsn := fmt.Sprintf("file:interactions-test-%d?mode=memory&cache=shared", testDatabaseSequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&Couplet{}, &LikeRecord{}, &BookmarkRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, invalidator TagInvalidator) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDatabase(t)
	service, err := NewService(ServiceConfig{
		Database:    db,
		Clock:       func() time.Time { return time.Unix(1700000000, 0) },
		Invalidator: invalidator,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func seedCouplet(t *testing.T, db *gorm.DB, coupletID, slug string) {
	t.Helper()
	couplet := Couplet{
		CoupletID:   coupletID,
		Slug:        slug,
		TextSindhi:  "سدا ساوا گل",
		TextEnglish: "evergreen blossoms",
		PoetName:    "Shah Abdul Latif",
	}
	if err := db.Create(&couplet).Error; err != nil {
		t.Fatalf("failed to seed couplet: %v", err)
	}
}
