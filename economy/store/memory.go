// Package store provides in-memory implementations of economy.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/questpoints/economy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	identities map[economy.IdentityID]economy.Identity
	tasks      map[economy.TaskID]taskRecord
	counters   map[economy.CounterTaskID]economy.CounterTask
	days       map[economy.CounterTaskID]map[string]economy.CounterDayPoints
	rewards    map[economy.RewardID]economy.Reward
	seq        int
}

// taskRecord keeps the insertion sequence used as the last ordering tie-break.
// The counter lives in Memory.counters; task.Variant is rebuilt on read.
type taskRecord struct {
	task      economy.Task
	counterID economy.CounterTaskID
	seq       int
}

func NewMemory() *Memory {
	return &Memory{
		identities: make(map[economy.IdentityID]economy.Identity),
		tasks:      make(map[economy.TaskID]taskRecord),
		counters:   make(map[economy.CounterTaskID]economy.CounterTask),
		days:       make(map[economy.CounterTaskID]map[string]economy.CounterDayPoints),
		rewards:    make(map[economy.RewardID]economy.Reward),
	}
}

// =============================================================================
// SEEDING - Used by tests and the dev server
// =============================================================================

// PutIdentity inserts or replaces an identity. An empty ID is generated.
func (m *Memory) PutIdentity(identity economy.Identity) economy.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	if identity.ID == "" {
		identity.ID = economy.IdentityID(uuid.NewString())
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}
	m.identities[identity.ID] = identity
	return identity
}

// PutTask inserts or replaces a task. Counter tasks get their CounterTask
// stored alongside; day buckets on the variant are ignored.
func (m *Memory) PutTask(task economy.Task) economy.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = economy.TaskID(uuid.NewString())
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	if task.PointsType == "" {
		task.PointsType = economy.PointsPositive
	}

	rec, exists := m.tasks[task.ID]
	if !exists {
		m.seq++
		rec.seq = m.seq
	}

	if counter, ok := task.Counter(); ok {
		if counter.ID == "" {
			counter.ID = rec.counterID
		}
		if counter.ID == "" {
			counter.ID = economy.CounterTaskID(uuid.NewString())
		}
		counter.TaskID = task.ID
		counter.Days = nil
		m.counters[counter.ID] = counter
		if m.days[counter.ID] == nil {
			m.days[counter.ID] = make(map[string]economy.CounterDayPoints)
		}
		rec.counterID = counter.ID
		task.Variant = economy.CounterVariant{Counter: counter}
	} else {
		task.Variant = economy.DefaultVariant{}
	}

	rec.task = task
	m.tasks[task.ID] = rec
	return task
}

// PutReward inserts or replaces a reward. An empty ID is generated.
func (m *Memory) PutReward(reward economy.Reward) economy.Reward {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reward.ID == "" {
		reward.ID = economy.RewardID(uuid.NewString())
	}
	if reward.CreatedAt.IsZero() {
		reward.CreatedAt = time.Now().UTC()
	}
	m.rewards[reward.ID] = reward
	return reward
}

// DeleteTask removes a task together with its counter and day buckets.
func (m *Memory) DeleteTask(_ context.Context, id economy.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[id]
	if !ok {
		return economy.NotFoundf("task", id)
	}
	if rec.counterID != "" {
		delete(m.counters, rec.counterID)
		delete(m.days, rec.counterID)
	}
	delete(m.tasks, id)
	return nil
}

// DeleteIdentity removes an identity and cascades to its tasks.
func (m *Memory) DeleteIdentity(ctx context.Context, id economy.IdentityID) error {
	m.mu.Lock()
	if _, ok := m.identities[id]; !ok {
		m.mu.Unlock()
		return economy.NotFoundf("identity", id)
	}
	delete(m.identities, id)
	var owned []economy.TaskID
	for tid, rec := range m.tasks {
		if rec.task.IdentityID == id {
			owned = append(owned, tid)
		}
	}
	m.mu.Unlock()

	for _, tid := range owned {
		if err := m.DeleteTask(ctx, tid); err != nil && !economy.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// =============================================================================
// economy.Store
// =============================================================================

func (m *Memory) GetTask(_ context.Context, id economy.TaskID) (economy.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTaskLocked(id)
}

func (m *Memory) ListTasks(_ context.Context, filter economy.TaskFilter) ([]economy.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTasksLocked(filter), nil
}

func (m *Memory) SetTaskCompletion(_ context.Context, id economy.TaskID, isActive bool, points int, at time.Time) (economy.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setTaskCompletionLocked(id, isActive, points, at)
}

func (m *Memory) ListCompletedUnlockedPositiveTasks(_ context.Context) ([]economy.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockCandidatesLocked(), nil
}

func (m *Memory) LockTasks(_ context.Context, ids []economy.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockTasksLocked(ids)
}

func (m *Memory) UnlockTask(_ context.Context, id economy.TaskID) (economy.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockTaskLocked(id)
}

func (m *Memory) UpsertCounterDayPoints(_ context.Context, counterTaskID economy.CounterTaskID, day economy.Day, delta int) (economy.CounterDayPoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertDayLocked(counterTaskID, day, delta)
}

func (m *Memory) IncrementCounterCount(_ context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementCountLocked(counterTaskID)
}

func (m *Memory) GetCounterTaskWithDayPoints(_ context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counterWithDaysLocked(counterTaskID)
}

func (m *Memory) GetReward(_ context.Context, id economy.RewardID) (economy.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRewardLocked(id)
}

func (m *Memory) MarkRewardRedeemed(_ context.Context, id economy.RewardID, at time.Time) (economy.Reward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markRedeemedLocked(id, at)
}

// =============================================================================
// LOCKED HELPERS - Caller holds m.mu
// =============================================================================

func (m *Memory) taskFromRecord(rec taskRecord) economy.Task {
	task := rec.task
	if rec.counterID != "" {
		task.Variant = economy.CounterVariant{Counter: m.counters[rec.counterID]}
	}
	return task
}

func (m *Memory) getTaskLocked(id economy.TaskID) (economy.Task, error) {
	rec, ok := m.tasks[id]
	if !ok {
		return economy.Task{}, economy.NotFoundf("task", id)
	}
	return m.taskFromRecord(rec), nil
}

func (m *Memory) sortedRecords(keep func(economy.Task) bool) []taskRecord {
	recs := make([]taskRecord, 0, len(m.tasks))
	for _, rec := range m.tasks {
		if keep(rec.task) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	return recs
}

func (m *Memory) listTasksLocked(f economy.TaskFilter) []economy.Task {
	recs := m.sortedRecords(func(t economy.Task) bool {
		return (f.IdentityID == nil || t.IdentityID == *f.IdentityID) &&
			(f.IsActive == nil || t.IsActive == *f.IsActive) &&
			(f.IsFavorited == nil || t.IsFavorited == *f.IsFavorited) &&
			(f.IsAddedToToday == nil || t.IsAddedToToday == *f.IsAddedToToday) &&
			(f.IsLocked == nil || t.IsLocked == *f.IsLocked)
	})
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].task.SortValue < recs[j].task.SortValue })

	tasks := make([]economy.Task, len(recs))
	for i, rec := range recs {
		tasks[i] = m.taskFromRecord(rec)
	}
	return tasks
}

func (m *Memory) lockCandidatesLocked() []economy.Task {
	recs := m.sortedRecords(economy.Task.Lockable)
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].task, recs[j].task
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	tasks := make([]economy.Task, len(recs))
	for i, rec := range recs {
		tasks[i] = m.taskFromRecord(rec)
	}
	return tasks
}

func (m *Memory) setTaskCompletionLocked(id economy.TaskID, isActive bool, points int, at time.Time) (economy.Task, error) {
	rec, ok := m.tasks[id]
	if !ok {
		return economy.Task{}, economy.NotFoundf("task", id)
	}
	rec.task.IsActive = isActive
	rec.task.Points = points
	rec.task.UpdatedAt = at
	m.tasks[id] = rec
	return m.taskFromRecord(rec), nil
}

func (m *Memory) lockTasksLocked(ids []economy.TaskID) error {
	// Check all first (atomic check)
	for _, id := range ids {
		rec, ok := m.tasks[id]
		if !ok || !rec.task.Lockable() {
			return &economy.ConflictError{Op: "lock tasks", Detail: "task " + string(id) + " is no longer lockable"}
		}
	}
	for _, id := range ids {
		rec := m.tasks[id]
		rec.task.IsLocked = true
		m.tasks[id] = rec
	}
	return nil
}

func (m *Memory) unlockTaskLocked(id economy.TaskID) (economy.Task, error) {
	rec, ok := m.tasks[id]
	if !ok {
		return economy.Task{}, economy.NotFoundf("task", id)
	}
	rec.task.IsLocked = false
	m.tasks[id] = rec
	return m.taskFromRecord(rec), nil
}

func (m *Memory) upsertDayLocked(counterTaskID economy.CounterTaskID, day economy.Day, delta int) (economy.CounterDayPoints, error) {
	if _, ok := m.counters[counterTaskID]; !ok {
		return economy.CounterDayPoints{}, economy.NotFoundf("counter_task", counterTaskID)
	}
	buckets := m.days[counterTaskID]
	bucket, ok := buckets[day.String()]
	if !ok {
		bucket = economy.CounterDayPoints{
			ID:            uuid.NewString(),
			CounterTaskID: counterTaskID,
			Day:           day,
		}
	}
	bucket.Points += delta
	buckets[day.String()] = bucket
	return bucket, nil
}

func (m *Memory) incrementCountLocked(counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	counter, ok := m.counters[counterTaskID]
	if !ok {
		return economy.CounterTask{}, economy.NotFoundf("counter_task", counterTaskID)
	}
	counter.Count++
	m.counters[counterTaskID] = counter
	return counter, nil
}

func (m *Memory) counterWithDaysLocked(counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	counter, ok := m.counters[counterTaskID]
	if !ok {
		return economy.CounterTask{}, economy.NotFoundf("counter_task", counterTaskID)
	}
	days := make([]economy.CounterDayPoints, 0, len(m.days[counterTaskID]))
	for _, d := range m.days[counterTaskID] {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })
	counter.Days = days
	return counter, nil
}

func (m *Memory) getRewardLocked(id economy.RewardID) (economy.Reward, error) {
	r, ok := m.rewards[id]
	if !ok {
		return economy.Reward{}, economy.NotFoundf("reward", id)
	}
	return r, nil
}

func (m *Memory) markRedeemedLocked(id economy.RewardID, at time.Time) (economy.Reward, error) {
	r, ok := m.rewards[id]
	if !ok {
		return economy.Reward{}, economy.NotFoundf("reward", id)
	}
	r.IsRedeemed = true
	r.RedeemedAt = &at
	m.rewards[id] = r
	return r, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are exclusive.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(economy.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	tasks    map[economy.TaskID]taskRecord
	counters map[economy.CounterTaskID]economy.CounterTask
	days     map[economy.CounterTaskID]map[string]economy.CounterDayPoints
	rewards  map[economy.RewardID]economy.Reward
	seq      int
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		tasks:    make(map[economy.TaskID]taskRecord, len(tm.tasks)),
		counters: make(map[economy.CounterTaskID]economy.CounterTask, len(tm.counters)),
		days:     make(map[economy.CounterTaskID]map[string]economy.CounterDayPoints, len(tm.days)),
		rewards:  make(map[economy.RewardID]economy.Reward, len(tm.rewards)),
		seq:      tm.seq,
	}
	for k, v := range tm.tasks {
		s.tasks[k] = v
	}
	for k, v := range tm.counters {
		s.counters[k] = v
	}
	for k, buckets := range tm.days {
		cp := make(map[string]economy.CounterDayPoints, len(buckets))
		for d, b := range buckets {
			cp[d] = b
		}
		s.days[k] = cp
	}
	for k, v := range tm.rewards {
		s.rewards[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.tasks = s.tasks
	tm.counters = s.counters
	tm.days = s.days
	tm.rewards = s.rewards
	tm.seq = s.seq
}

// txMemoryView runs inside WithTx, where the parent lock is already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetTask(_ context.Context, id economy.TaskID) (economy.Task, error) {
	return tv.parent.getTaskLocked(id)
}

func (tv *txMemoryView) ListTasks(_ context.Context, filter economy.TaskFilter) ([]economy.Task, error) {
	return tv.parent.listTasksLocked(filter), nil
}

func (tv *txMemoryView) SetTaskCompletion(_ context.Context, id economy.TaskID, isActive bool, points int, at time.Time) (economy.Task, error) {
	return tv.parent.setTaskCompletionLocked(id, isActive, points, at)
}

func (tv *txMemoryView) ListCompletedUnlockedPositiveTasks(_ context.Context) ([]economy.Task, error) {
	return tv.parent.lockCandidatesLocked(), nil
}

func (tv *txMemoryView) LockTasks(_ context.Context, ids []economy.TaskID) error {
	return tv.parent.lockTasksLocked(ids)
}

func (tv *txMemoryView) UnlockTask(_ context.Context, id economy.TaskID) (economy.Task, error) {
	return tv.parent.unlockTaskLocked(id)
}

func (tv *txMemoryView) UpsertCounterDayPoints(_ context.Context, counterTaskID economy.CounterTaskID, day economy.Day, delta int) (economy.CounterDayPoints, error) {
	return tv.parent.upsertDayLocked(counterTaskID, day, delta)
}

func (tv *txMemoryView) IncrementCounterCount(_ context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	return tv.parent.incrementCountLocked(counterTaskID)
}

func (tv *txMemoryView) GetCounterTaskWithDayPoints(_ context.Context, counterTaskID economy.CounterTaskID) (economy.CounterTask, error) {
	return tv.parent.counterWithDaysLocked(counterTaskID)
}

func (tv *txMemoryView) GetReward(_ context.Context, id economy.RewardID) (economy.Reward, error) {
	return tv.parent.getRewardLocked(id)
}

func (tv *txMemoryView) MarkRewardRedeemed(_ context.Context, id economy.RewardID, at time.Time) (economy.Reward, error) {
	return tv.parent.markRedeemedLocked(id, at)
}
