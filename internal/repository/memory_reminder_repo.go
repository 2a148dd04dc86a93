package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/moonwave/sms/internal/calendar"
	"github.com/moonwave/sms/internal/model"
)

// MemoryReminderRepo はプロセス内メモリのリマインダー記録ストア。
// 単一プロセスでの開発・テスト用で、再起動すると記録は失われる。
type MemoryReminderRepo struct {
	mu      sync.Mutex
	records map[model.ReminderKey]model.ReminderRecord
}

// NewMemoryReminderRepo はMemoryReminderRepoを生成する。
func NewMemoryReminderRepo() *MemoryReminderRepo {
	return &MemoryReminderRepo{records: make(map[model.ReminderKey]model.ReminderRecord)}
}

// Exists は指定キーの記録が存在するかを返す。
func (r *MemoryReminderRepo) Exists(_ context.Context, key model.ReminderKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.records[key]
	return ok, nil
}

// InsertIfAbsent は記録が存在しない場合にのみ挿入する。
func (r *MemoryReminderRepo) InsertIfAbsent(_ context.Context, record *model.ReminderRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.ReminderKey]; ok {
		return false, nil
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	r.records[record.ReminderKey] = *record
	return true, nil
}

// PruneBefore はoccurrence_dateがbeforeより前の記録を削除する。
func (r *MemoryReminderRepo) PruneBefore(_ context.Context, before calendar.Date) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key := range r.records {
		if key.OccurrenceDate.Before(before) {
			delete(r.records, key)
			n++
		}
	}
	return n, nil
}

// Records は保持している記録のスナップショットを返す。
func (r *MemoryReminderRepo) Records() []model.ReminderRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.ReminderRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// compile-time interface check
var (
	_ ReminderRecordStore  = (*MemoryReminderRepo)(nil)
	_ ReminderRecordPruner = (*MemoryReminderRepo)(nil)
)
