package service

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/repository"
)

// ── Mock AttendanceRecordRepository ──

type mockAttendanceRepo struct {
	mu      sync.Mutex
	records map[string]model.AttendanceRecord // key: company|student|date

	listErr   error
	existsErr error
	upsertErr error
	batchErr  error
	deleteErr error

	upsertCalls int
	batchCalls  int
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{records: make(map[string]model.AttendanceRecord)}
}

func recordKey(companyID, studentID, dateKey string) string {
	return companyID + "|" + studentID + "|" + dateKey
}

func (m *mockAttendanceRepo) ListDayKeys(_ context.Context, companyID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	seen := make(map[string]bool)
	var keys []string
	for _, r := range m.records {
		if r.CompanyID == companyID && !seen[r.DateKey] {
			seen[r.DateKey] = true
			keys = append(keys, r.DateKey)
		}
	}
	return keys, nil
}

func (m *mockAttendanceRepo) ExistsForDay(_ context.Context, companyID, dateKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, r := range m.records {
		if r.CompanyID == companyID && r.DateKey == dateKey {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAttendanceRepo) ListByDay(_ context.Context, companyID, dateKey string) ([]model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []model.AttendanceRecord
	for _, r := range m.records {
		if r.CompanyID == companyID && r.DateKey == dateKey {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockAttendanceRepo) Upsert(_ context.Context, record *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records[recordKey(record.CompanyID, record.StudentID, record.DateKey)] = *record
	return nil
}

func (m *mockAttendanceRepo) BatchCreate(_ context.Context, records []model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.batchErr != nil {
		return m.batchErr
	}
	for _, r := range records {
		if _, ok := m.records[recordKey(r.CompanyID, r.StudentID, r.DateKey)]; ok {
			return gorm.ErrDuplicatedKey
		}
	}
	for _, r := range records {
		m.records[recordKey(r.CompanyID, r.StudentID, r.DateKey)] = r
	}
	return nil
}

func (m *mockAttendanceRepo) DeleteByDay(_ context.Context, companyID, dateKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var n int64
	for k, r := range m.records {
		if r.CompanyID == companyID && r.DateKey == dateKey {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

// ── Mock ObservationRepository ──

type mockObservationRepo struct {
	mu           sync.Mutex
	observations map[string]model.Observation // key: company|date

	getErr    error
	upsertErr error
	deleteErr error

	upsertCalls int
}

func newMockObservationRepo() *mockObservationRepo {
	return &mockObservationRepo{observations: make(map[string]model.Observation)}
}

func (m *mockObservationRepo) GetByDay(_ context.Context, companyID, dateKey string) (*model.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if o, ok := m.observations[companyID+"|"+dateKey]; ok {
		return &o, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockObservationRepo) Upsert(_ context.Context, obs *model.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.observations[obs.CompanyID+"|"+obs.DateKey] = *obs
	return nil
}

func (m *mockObservationRepo) DeleteByDay(_ context.Context, companyID, dateKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.observations, companyID+"|"+dateKey)
	return nil
}

// ── Mock StudentRepository ──

type mockStudentRepo struct {
	roster map[string][]string
	err    error
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{roster: make(map[string][]string)}
}

func (m *mockStudentRepo) ListActiveIDs(_ context.Context, companyID string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return append([]string(nil), m.roster[companyID]...), nil
}

// ── 装配 ──

type mockRepos struct {
	attendance  *mockAttendanceRepo
	observation *mockObservationRepo
	student     *mockStudentRepo
}

func newMockRepository() (*repository.Repository, *mockRepos) {
	m := &mockRepos{
		attendance:  newMockAttendanceRepo(),
		observation: newMockObservationRepo(),
		student:     newMockStudentRepo(),
	}
	repo := &repository.Repository{
		Attendance:  m.attendance,
		Observation: m.observation,
		Student:     m.student,
	}
	return repo, m
}
