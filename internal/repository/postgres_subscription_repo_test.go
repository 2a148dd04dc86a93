package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

func TestNewPostgresSubscriptionRepo_DefaultPageSize(t *testing.T) {
	repo := NewPostgresSubscriptionRepo(nil, 0)
	if repo.pageSize != defaultPageSize {
		t.Errorf("pageSize = %d, want %d", repo.pageSize, defaultPageSize)
	}

	repo = NewPostgresSubscriptionRepo(nil, 50)
	if repo.pageSize != 50 {
		t.Errorf("pageSize = %d, want 50", repo.pageSize)
	}
}

func newTestSubscription(id string, active bool) *model.Subscription {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &model.Subscription{
		ID:              id,
		OwnerID:         "owner-1",
		Name:            "Netflix",
		Amount:          decimal.RequireFromString("17000.00"),
		Currency:        "KRW",
		Cycle:           model.CycleMonthly,
		AnchorDay:       15,
		StartDate:       calendar.MustParse("2025-01-15"),
		Active:          active,
		ReminderWindows: model.KindsOf(model.ReminderThreeDay, model.ReminderSameDay),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestPostgresSubscriptionRepo_CreateAndFind(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresSubscriptionRepo(db, 10)
	ctx := context.Background()

	sub := newTestSubscription("sub-1", true)
	end := calendar.MustParse("2025-12-31")
	sub.EndDate = &end
	if err := repo.Create(ctx, sub); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.FindByID(ctx, "sub-1")
	if err != nil {
		t.Fatalf("FindByID() error: %v", err)
	}
	if got == nil {
		t.Fatal("FindByID() = nil, want subscription")
	}
	if !got.Amount.Equal(sub.Amount) {
		t.Errorf("Amount = %s, want %s", got.Amount, sub.Amount)
	}
	if got.StartDate != sub.StartDate {
		t.Errorf("StartDate = %s, want %s", got.StartDate, sub.StartDate)
	}
	if got.EndDate == nil || *got.EndDate != end {
		t.Errorf("EndDate = %v, want %s", got.EndDate, end)
	}
	if got.ReminderWindows != sub.ReminderWindows {
		t.Errorf("ReminderWindows = %q, want %q", got.ReminderWindows, sub.ReminderWindows)
	}

	missing, err := repo.FindByID(ctx, "missing")
	if err != nil {
		t.Fatalf("FindByID(missing) error: %v", err)
	}
	if missing != nil {
		t.Errorf("FindByID(missing) = %v, want nil", missing)
	}
}

// キーセットページネーションで非アクティブを除く全件を重複なく取得できる。
func TestPostgresSubscriptionRepo_ListActiveSubscriptions_Paging(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresSubscriptionRepo(db, 3)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		sub := newTestSubscription(fmt.Sprintf("sub-%02d", i), i != 4)
		if err := repo.Create(ctx, sub); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	seen := make(map[string]bool)
	token := ""
	pages := 0
	for {
		subs, next, err := repo.ListActiveSubscriptions(ctx, token)
		if err != nil {
			t.Fatalf("ListActiveSubscriptions() error: %v", err)
		}
		pages++
		for _, s := range subs {
			if seen[s.ID] {
				t.Errorf("%s が重複して返された", s.ID)
			}
			if !s.Active {
				t.Errorf("非アクティブな %s が返された", s.ID)
			}
			seen[s.ID] = true
		}
		if next == "" {
			break
		}
		token = next
	}

	if len(seen) != 7 {
		t.Errorf("取得件数 = %d, want 7", len(seen))
	}
	if seen["sub-04"] {
		t.Error("非アクティブなsub-04は返されないべき")
	}
	if pages != 3 {
		t.Errorf("ページ数 = %d, want 3", pages)
	}
}
