package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"civic-engagement-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// newTestDB opens an isolated in-memory database per test. A single
// connection keeps the shared-cache sqlite instance alive and serializes
// statements the way the postgres pool would under row locking.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.CitizenUser{},
		&models.LedgerEntry{},
		&models.UserProgress{},
		&models.CategoryProgress{},
		&models.BadgeType{},
		&models.UserBadge{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func createCitizen(t *testing.T, db *gorm.DB, externalID string) {
	t.Helper()
	citizen := models.CitizenUser{
		ID:             uuid.NewString(),
		ExternalUserID: externalID,
		Username:       externalID,
		Email:          externalID + "@example.com",
	}
	if err := db.Create(&citizen).Error; err != nil {
		t.Fatalf("create citizen %s: %v", externalID, err)
	}
}

func TestAward_SumsEntries(t *testing.T) {
	db := newTestDB(t)
	createCitizen(t, db, "u1")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	// Zero and negative points are mechanism, not policy: both must append.
	awards := []int64{100, 0, -30, 5}
	var want int64
	var got int64
	for _, points := range awards {
		total, err := ledger.Award(ctx, "u1", points, "test")
		if err != nil {
			t.Fatalf("Award(%d): %v", points, err)
		}
		want += points
		got = total
	}
	if got != want {
		t.Errorf("final total = %d, want %d", got, want)
	}

	var entryCount int64
	db.Model(&models.LedgerEntry{}).Where("external_user_id = ?", "u1").Count(&entryCount)
	if entryCount != int64(len(awards)) {
		t.Errorf("ledger entries = %d, want %d", entryCount, len(awards))
	}

	var sum int64
	db.Model(&models.LedgerEntry{}).Where("external_user_id = ?", "u1").Select("COALESCE(SUM(points), 0)").Scan(&sum)
	if sum != want {
		t.Errorf("ledger sum = %d, want %d — totals must always re-derive from the ledger", sum, want)
	}
}

func TestAward_UserNotFound(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)

	_, err := ledger.Award(context.Background(), "ghost", 10, "test")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Award for unknown user = %v, want ErrUserNotFound", err)
	}

	var entryCount int64
	db.Model(&models.LedgerEntry{}).Count(&entryCount)
	if entryCount != 0 {
		t.Errorf("failed award left %d ledger entries, want 0", entryCount)
	}
}

func TestAward_PersistenceErrorIsAtomic(t *testing.T) {
	db := newTestDB(t)
	createCitizen(t, db, "u1")
	ledger := NewLedgerService(db)

	if err := db.Migrator().DropTable(&models.LedgerEntry{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := ledger.Award(context.Background(), "u1", 10, "test")
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("Award with broken storage = %v, want *PersistenceError", err)
	}

	// The transaction rolled back: no total was recorded either.
	var prog models.UserProgress
	err = db.Where("external_user_id = ?", "u1").First(&prog).Error
	if err == nil && prog.TotalPoints != 0 {
		t.Errorf("partial state visible after failed award: total = %d", prog.TotalPoints)
	}
}

func TestAward_ConcurrentSameUser(t *testing.T) {
	db := newTestDB(t)
	createCitizen(t, db, "u1")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	const workers = 4
	const awardsEach = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < awardsEach; i++ {
				if _, err := ledger.Award(ctx, "u1", 3, "concurrent"); err != nil {
					t.Errorf("concurrent Award: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	prog, err := ledger.EnsureProgressRecord("u1")
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	want := int64(workers * awardsEach * 3)
	if prog.TotalPoints != want {
		t.Errorf("total after concurrent awards = %d, want %d (lost update)", prog.TotalPoints, want)
	}
}

func TestAward_WindowedCountersAndLevel(t *testing.T) {
	db := newTestDB(t)
	createCitizen(t, db, "u1")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	if _, err := ledger.Award(ctx, "u1", 250, "test"); err != nil {
		t.Fatalf("Award: %v", err)
	}

	prog, err := ledger.EnsureProgressRecord("u1")
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if prog.WeeklyPoints != 250 || prog.MonthlyPoints != 250 {
		t.Errorf("windowed points = %d/%d, want 250/250", prog.WeeklyPoints, prog.MonthlyPoints)
	}
	if prog.WeekKey == "" || prog.MonthKey == "" {
		t.Errorf("window keys not stamped: %q / %q", prog.WeekKey, prog.MonthKey)
	}
	if prog.Level != 3 {
		t.Errorf("level at 250 points = %d, want 3", prog.Level)
	}
	if prog.LastLevelUpAt == nil {
		t.Error("LastLevelUpAt not recorded on level-up")
	}
	if prog.LastEarnedAt == nil {
		t.Error("LastEarnedAt not recorded")
	}
}

func TestRecordLogin_OncePerDay(t *testing.T) {
	db := newTestDB(t)
	createCitizen(t, db, "u1")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	prog, _, err := ledger.RecordLogin(ctx, "u1")
	if err != nil {
		t.Fatalf("first RecordLogin: %v", err)
	}
	if prog.TotalPoints != DailyLoginPoints || prog.TotalLogins != 1 {
		t.Errorf("after first login: total=%d logins=%d, want %d/1", prog.TotalPoints, prog.TotalLogins, DailyLoginPoints)
	}

	// Same-day repeat is a no-op, not an error.
	prog, granted, err := ledger.RecordLogin(ctx, "u1")
	if err != nil {
		t.Fatalf("second RecordLogin: %v", err)
	}
	if len(granted) != 0 {
		t.Errorf("second login granted badges: %v", granted)
	}
	if prog.TotalPoints != DailyLoginPoints || prog.TotalLogins != 1 {
		t.Errorf("after repeat login: total=%d logins=%d, want %d/1", prog.TotalPoints, prog.TotalLogins, DailyLoginPoints)
	}
}

func TestGetHistory_Paginates(t *testing.T) {
	db := newTestDB(t)
	createCitizen(t, db, "u1")
	ledger := NewLedgerService(db)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := ledger.Award(ctx, "u1", int64(i+1), "test"); err != nil {
			t.Fatalf("Award: %v", err)
		}
	}

	history, err := ledger.GetHistory(ctx, "u1", 1, 5)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	entries := history["entries"].([]models.LedgerEntry)
	if len(entries) != 5 {
		t.Errorf("page 1 size = %d, want 5", len(entries))
	}
	if history["total_items"].(int64) != 7 {
		t.Errorf("total_items = %v, want 7", history["total_items"])
	}
	if history["total_pages"].(int) != 2 {
		t.Errorf("total_pages = %v, want 2", history["total_pages"])
	}
}
