package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/docforge/internal/models"
)

// MemoryStore はテストとローカル実行用のインメモリ Store です。
// トランザクションは排他で実行され、その間トランザクション外の読み書きは待たされます。
// エラー時は開始時点のスナップショットへ巻き戻します。
type MemoryStore struct {
	txMu sync.RWMutex
	data *memoryData
}

// memoryData はロック済みの前提で Repository を実装します。トランザクション内ではこれを直接渡します。
type memoryData struct {
	mu       sync.Mutex
	jobs     map[string]*models.Job
	files    map[string]*models.File
	jobFiles []models.JobFile
	users    map[string]*models.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{
		jobs:  make(map[string]*models.Job),
		files: make(map[string]*models.File),
		users: make(map[string]*models.User),
	}}
}

type memorySnapshot struct {
	jobs     map[string]*models.Job
	files    map[string]*models.File
	jobFiles []models.JobFile
	users    map[string]*models.User
}

func (m *memoryData) snapshot() memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := memorySnapshot{
		jobs:     make(map[string]*models.Job, len(m.jobs)),
		files:    make(map[string]*models.File, len(m.files)),
		jobFiles: append([]models.JobFile(nil), m.jobFiles...),
		users:    make(map[string]*models.User, len(m.users)),
	}
	for k, v := range m.jobs {
		s.jobs[k] = v.Clone()
	}
	for k, v := range m.files {
		c := *v
		s.files[k] = &c
	}
	for k, v := range m.users {
		c := *v
		s.users[k] = &c
	}
	return s
}

func (m *memoryData) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = s.jobs
	m.files = s.files
	m.jobFiles = s.jobFiles
	m.users = s.users
}

// WithTx は txMu を排他で保持するため、巻き戻しでトランザクション外の書き込みを失うことはありません。
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.data.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.data.restore(snap)
			panic(p)
		}
		if err != nil {
			m.data.restore(snap)
		}
	}()

	err = fn(ctx, m.data)
	return err
}

func (m *MemoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.CreateJob(ctx, job)
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.GetJob(ctx, id)
}

func (m *MemoryStore) LockJob(ctx context.Context, id string) (*models.Job, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.LockJob(ctx, id)
}

func (m *MemoryStore) UpdateJob(ctx context.Context, job *models.Job) error {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.UpdateJob(ctx, job)
}

func (m *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.DeleteJob(ctx, id)
}

func (m *MemoryStore) ListUserJobs(ctx context.Context, userID string, limit int) ([]*models.Job, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.ListUserJobs(ctx, userID, limit)
}

func (m *MemoryStore) CountJobsSince(ctx context.Context, since time.Time) (models.JobCounts, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.CountJobsSince(ctx, since)
}

func (m *MemoryStore) CreateFile(ctx context.Context, file *models.File) error {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.CreateFile(ctx, file)
}

func (m *MemoryStore) GetFiles(ctx context.Context, ids []string) ([]*models.File, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.GetFiles(ctx, ids)
}

func (m *MemoryStore) DeleteFile(ctx context.Context, id string) error {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.DeleteFile(ctx, id)
}

func (m *MemoryStore) CountFileLinks(ctx context.Context, fileID string) (int, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.CountFileLinks(ctx, fileID)
}

func (m *MemoryStore) AddJobFile(ctx context.Context, jf models.JobFile) error {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.AddJobFile(ctx, jf)
}

func (m *MemoryStore) ListJobFiles(ctx context.Context, jobID string) ([]models.JobFileDetail, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.ListJobFiles(ctx, jobID)
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.CreateUser(ctx, user)
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.GetUser(ctx, id)
}

func (m *MemoryStore) IncrementDailyUsage(ctx context.Context, userID string, now time.Time) (*models.User, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return m.data.IncrementDailyUsage(ctx, userID, now)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *memoryData) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", ErrConflict, job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *memoryData) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (m *memoryData) LockJob(ctx context.Context, id string) (*models.Job, error) {
	return m.GetJob(ctx, id)
}

func (m *memoryData) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	next := job.Clone()
	// 作成時に決まる列は更新しない
	next.Type = cur.Type
	next.Metadata = cur.Metadata
	next.WebhookURL = cur.WebhookURL
	next.UserID = cur.UserID
	next.CreatedAt = cur.CreatedAt
	m.jobs[job.ID] = next
	return nil
}

func (m *memoryData) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	kept := m.jobFiles[:0]
	for _, jf := range m.jobFiles {
		if jf.JobID != id {
			kept = append(kept, jf)
		}
	}
	m.jobFiles = kept
	return nil
}

func (m *memoryData) ListUserJobs(_ context.Context, userID string, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]*models.Job, 0)
	for _, j := range m.jobs {
		if j.UserID != nil && *j.UserID == userID {
			jobs = append(jobs, j.Clone())
		}
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (m *memoryData) CountJobsSince(_ context.Context, since time.Time) (models.JobCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c models.JobCounts
	for _, j := range m.jobs {
		if j.CreatedAt.Before(since) {
			continue
		}
		c.Total++
		switch j.Status {
		case models.JobStatusCompleted:
			c.Completed++
		case models.JobStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *memoryData) CreateFile(_ context.Context, file *models.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[file.ID]; ok {
		return fmt.Errorf("%w: file %s", ErrConflict, file.ID)
	}
	for _, f := range m.files {
		if f.StorageKey == file.StorageKey {
			return fmt.Errorf("%w: storage key %s", ErrConflict, file.StorageKey)
		}
	}
	c := *file
	m.files[file.ID] = &c
	return nil
}

func (m *memoryData) GetFiles(_ context.Context, ids []string) ([]*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.File, 0, len(ids))
	for _, id := range ids {
		if f, ok := m.files[id]; ok {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memoryData) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	delete(m.files, id)
	kept := m.jobFiles[:0]
	for _, jf := range m.jobFiles {
		if jf.FileID != id {
			kept = append(kept, jf)
		}
	}
	m.jobFiles = kept
	return nil
}

func (m *memoryData) CountFileLinks(_ context.Context, fileID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, jf := range m.jobFiles {
		if jf.FileID == fileID {
			n++
		}
	}
	return n, nil
}

func (m *memoryData) AddJobFile(_ context.Context, jf models.JobFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jf.JobID]; !ok {
		return fmt.Errorf("db error: job %s does not exist", jf.JobID)
	}
	if _, ok := m.files[jf.FileID]; !ok {
		return fmt.Errorf("db error: file %s does not exist", jf.FileID)
	}
	for _, cur := range m.jobFiles {
		if cur.JobID == jf.JobID && cur.IsInput == jf.IsInput && cur.Order == jf.Order {
			return fmt.Errorf("%w: job file %s/%d", ErrConflict, jf.JobID, jf.Order)
		}
	}
	m.jobFiles = append(m.jobFiles, jf)
	return nil
}

func (m *memoryData) ListJobFiles(_ context.Context, jobID string) ([]models.JobFileDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.JobFileDetail, 0)
	for _, jf := range m.jobFiles {
		if jf.JobID != jobID {
			continue
		}
		f, ok := m.files[jf.FileID]
		if !ok {
			continue
		}
		c := *f
		out = append(out, models.JobFileDetail{JobFile: jf, File: &c})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].IsInput != out[b].IsInput {
			return out[a].IsInput
		}
		return out[a].Order < out[b].Order
	})
	return out, nil
}

func (m *memoryData) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == user.ID || u.Email == user.Email {
			return fmt.Errorf("%w: user %s", ErrConflict, user.Email)
		}
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *memoryData) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memoryData) IncrementDailyUsage(_ context.Context, userID string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if u.LastUsageDate != nil && sameUTCDay(*u.LastUsageDate, now) {
		u.DailyUsage++
	} else {
		u.DailyUsage = 1
	}
	t := now
	u.LastUsageDate = &t
	c := *u
	return &c, nil
}
