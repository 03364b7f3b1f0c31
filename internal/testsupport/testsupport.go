package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"attriflow/internal/events"
	"attriflow/internal/funnels"
	"attriflow/internal/goals"
	"attriflow/internal/insights"
	"attriflow/internal/journeys"
	"attriflow/internal/organizations"
	"attriflow/internal/transitions"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with attriflow's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns all attriflow models for migration
func allModels() []any {
	return []any{
		&organizations.Organization{},
		&events.Event{},
		&journeys.Journey{},
		&transitions.ChannelTransition{},
		&funnels.FunnelTransition{},
		&insights.JourneyAnalytics{},
		&goals.ConversionGoal{},
		&goals.GoalRelationship{},
		&goals.GoalBranch{},
	}
}

// SetupTestDB creates a test database with all attriflow models migrated.
// Uses a named in-memory database with cache=shared to allow multiple connections
// to share the same database within a test. Caches the database by test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	// Create a unique named in-memory database for each test
	// cache=shared allows multiple connections to the same database
	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestOrganization creates (or returns) an organization by slug.
func CreateTestOrganization(t *testing.T, db *gorm.DB, slug string) organizations.Organization {
	t.Helper()

	var org organizations.Organization
	if db.Where("slug = ?", slug).First(&org).Error == nil {
		return org
	}
	org = organizations.Organization{Slug: slug, Name: slug, Active: true, CreatedAt: time.Now().UTC()}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("testsupport: failed to create organization: %v", err)
	}
	return org
}

// PageView creates an in-memory page view event for a session.
func PageView(organizationID uint, sessionID, visitorID, path string, ts time.Time) events.Event {
	return events.Event{
		OrganizationID: organizationID,
		VisitorID:      visitorID,
		SessionID:      sessionID,
		EventType:      events.EventTypePageView,
		PageHostname:   "example.com",
		PagePath:       path,
		Timestamp:      ts,
	}
}

// CreateTestGoal inserts an active goal and returns it.
func CreateTestGoal(t *testing.T, db *gorm.DB, organizationID uint, name string) goals.ConversionGoal {
	t.Helper()

	goal := goals.ConversionGoal{
		OrganizationID: organizationID,
		Name:           name,
		GoalType:       goals.GoalTypeManual,
		Active:         true,
	}
	if err := db.Create(&goal).Error; err != nil {
		t.Fatalf("testsupport: failed to create goal: %v", err)
	}
	return goal
}

// CreateTestRelationship inserts one upstream->downstream edge.
func CreateTestRelationship(t *testing.T, db *gorm.DB, organizationID, upstreamID, downstreamID uint, operator string) goals.GoalRelationship {
	t.Helper()

	rel := goals.GoalRelationship{
		OrganizationID: organizationID,
		UpstreamID:     upstreamID,
		DownstreamID:   downstreamID,
		Kind:           goals.RelationFunnel,
		Operator:       operator,
	}
	if err := db.Create(&rel).Error; err != nil {
		t.Fatalf("testsupport: failed to create relationship: %v", err)
	}
	return rel
}
