package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/risalo/backend/internal/auth"
	"github.com/risalo/backend/internal/broadcast"
	"github.com/risalo/backend/internal/cache"
	"github.com/risalo/backend/internal/interactions"
	"gorm.io/gorm"
)

type routerFixture struct {
	handler    http.Handler
	db         *gorm.DB
	dispatcher *broadcast.Dispatcher
	issuer     *auth.TokenIssuer
	tags       *cache.TagStore
}

var testDatabaseSequence int

func newRouterFixture(t *testing.T, batchLimit int) *routerFixture {
	t.Helper()

	testDatabaseSequence++
	dsn := fmt.Sprintf("file:server-test-%d?mode=memory&cache=shared", testDatabaseSequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&interactions.Couplet{}, &interactions.LikeRecord{}, &interactions.BookmarkRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tags := cache.NewTagStore()
	service, err := interactions.NewService(interactions.ServiceConfig{
		Database:    db,
		Invalidator: tags,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "risalo-auth",
		Audience:      "risalo-api",
		TokenTTL:      time.Hour,
	})
	dispatcher := broadcast.NewDispatcher()

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: issuer,
		Interactions: service,
		Dispatcher:   dispatcher,
		BatchLimit:   batchLimit,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &routerFixture{
		handler:    handler,
		db:         db,
		dispatcher: dispatcher,
		issuer:     issuer,
		tags:       tags,
	}
}

func (f *routerFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := f.issuer.IssueToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f *routerFixture) seedCouplet(t *testing.T, coupletID, slug string) {
	t.Helper()
	couplet := interactions.Couplet{
		CoupletID:   coupletID,
		Slug:        slug,
		TextSindhi:  "جي تو ڏٺو ناھي",
		TextEnglish: "if you have not seen",
		PoetName:    "Shah Abdul Latif",
	}
	if err := f.db.Create(&couplet).Error; err != nil {
		t.Fatalf("failed to seed couplet: %v", err)
	}
}
