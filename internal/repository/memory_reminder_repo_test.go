package repository

import (
	"context"
	"testing"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

func TestMemoryReminderRepo_Contract(t *testing.T) {
	storeContract(t, NewMemoryReminderRepo())
}

func TestMemoryReminderRepo_ConcurrentInsert(t *testing.T) {
	concurrentInsertContract(t, NewMemoryReminderRepo())
}

func TestMemoryReminderRepo_PruneBefore(t *testing.T) {
	repo := NewMemoryReminderRepo()
	ctx := context.Background()

	for _, date := range []string{"2024-12-01", "2024-12-31", "2025-01-01"} {
		if _, err := repo.InsertIfAbsent(ctx, testRecord("sub-1", model.ReminderSameDay, date)); err != nil {
			t.Fatalf("InsertIfAbsent() error: %v", err)
		}
	}

	n, err := repo.PruneBefore(ctx, calendar.MustParse("2025-01-01"))
	if err != nil {
		t.Fatalf("PruneBefore() error: %v", err)
	}
	if n != 2 {
		t.Errorf("削除件数 = %d, want 2", n)
	}
	if got := len(repo.Records()); got != 1 {
		t.Errorf("残りの記録数 = %d, want 1", got)
	}
}
