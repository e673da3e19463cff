package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository"
)

// ---- JobStore mock ----

var (
	_ repository.JobStore           = (*JobStore)(nil)
	_ repository.CompletedJobReader = (*JobStore)(nil)
)

// JobStore is an in-memory test double for repository.JobStore. It keeps real
// state so aggregation tests can read back what they wrote; per-method Fn
// fields inject failures before the default behaviour runs.
type JobStore struct {
	mu sync.Mutex

	Jobs         map[uuid.UUID]*domain.JobRecord
	Expectations map[uuid.UUID]map[string]*domain.ExpectationRecord
	Outcomes     map[uuid.UUID][]*domain.OutcomeRecord
	Completed    map[uuid.UUID]*domain.CompletedJob
	Quarantined  map[uuid.UUID]*domain.QuarantinedJob

	RegisterJobFn   func(evt *domain.JobSubmitted) error
	WriteOutcomeFn  func(jobID uuid.UUID, rec *domain.OutcomeRecord) error
	AdvanceStatusFn func(jobID uuid.UUID, from, to domain.JobStatus) error
	CompleteJobFn   func(jobID uuid.UUID) error
	FailJobFn       func(jobID uuid.UUID, cause error) error

	// Recorded calls for assertions.
	Advances []StatusAdvance
}

type StatusAdvance struct {
	JobID    uuid.UUID
	From, To domain.JobStatus
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		Jobs:         make(map[uuid.UUID]*domain.JobRecord),
		Expectations: make(map[uuid.UUID]map[string]*domain.ExpectationRecord),
		Outcomes:     make(map[uuid.UUID][]*domain.OutcomeRecord),
		Completed:    make(map[uuid.UUID]*domain.CompletedJob),
		Quarantined:  make(map[uuid.UUID]*domain.QuarantinedJob),
	}
}

func cloneJob(j *domain.JobRecord) *domain.JobRecord {
	c := *j
	if j.ExpectedKeyCount != nil {
		n := *j.ExpectedKeyCount
		c.ExpectedKeyCount = &n
	}
	return &c
}

func (m *JobStore) terminalExistsLocked(jobID uuid.UUID) bool {
	_, completed := m.Completed[jobID]
	_, quarantined := m.Quarantined[jobID]
	return completed || quarantined
}

func (m *JobStore) RegisterJob(ctx context.Context, evt *domain.JobSubmitted) (*domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RegisterJobFn != nil {
		if err := m.RegisterJobFn(evt); err != nil {
			return nil, err
		}
	}
	if m.terminalExistsLocked(evt.JobID) {
		return nil, &domain.ConflictError{Reason: "job " + evt.JobID.String() + " already reached a terminal state"}
	}

	now := time.Now().UTC()
	job, ok := m.Jobs[evt.JobID]
	if !ok {
		count := evt.ExpectedKeyCount
		job = &domain.JobRecord{
			JobID:               evt.JobID,
			SubmittedAt:         now,
			ProjectNumber:       evt.ProjectNumber,
			ExtractionDirectory: evt.ExtractionDirectory,
			KeyTag:              evt.KeyTag,
			ExpectedKeyCount:    &count,
			Modality:            evt.Modality,
			IsIdentifiable:      evt.IsIdentifiable,
			IsNoFilter:          evt.IsNoFilter,
			Status:              domain.StatusWaitingForCollectionInfo,
			ProducerHeader:      evt.MessageHeader,
			Revision:            1,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		m.Jobs[evt.JobID] = job
		return cloneJob(job), nil
	}

	if job.Status == domain.StatusFailed {
		return nil, &domain.InvalidStateError{Reason: "job " + evt.JobID.String() + " is failed"}
	}
	if job.IsPlaceholder() {
		count := evt.ExpectedKeyCount
		job.SubmittedAt = now
		job.ProjectNumber = evt.ProjectNumber
		job.ExtractionDirectory = evt.ExtractionDirectory
		job.KeyTag = evt.KeyTag
		job.ExpectedKeyCount = &count
		job.Modality = evt.Modality
		job.IsIdentifiable = evt.IsIdentifiable
		job.IsNoFilter = evt.IsNoFilter
		job.ProducerHeader = evt.MessageHeader
		job.Revision++
		job.UpdatedAt = now
	}
	return cloneJob(job), nil
}

func (m *JobStore) EnsureJob(ctx context.Context, jobID uuid.UUID, header domain.MessageHeader) (*domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.Jobs[jobID]
	if !ok {
		now := time.Now().UTC()
		job = &domain.JobRecord{
			JobID:          jobID,
			SubmittedAt:    now,
			Status:         domain.StatusWaitingForCollectionInfo,
			ProducerHeader: header,
			Revision:       1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		m.Jobs[jobID] = job
	}
	return cloneJob(job), nil
}

func (m *JobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.Jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *JobStore) ListJobs(ctx context.Context, statuses []domain.JobStatus, jobID *uuid.UUID) ([]*domain.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.JobRecord
	for id, job := range m.Jobs {
		if jobID != nil && id != *jobID {
			continue
		}
		for _, s := range statuses {
			if job.Status == s {
				out = append(out, cloneJob(job))
				break
			}
		}
	}
	return out, nil
}

func (m *JobStore) UpsertExpectation(ctx context.Context, jobID uuid.UUID, rec *domain.ExpectationRecord, header domain.MessageHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.Expectations[jobID]
	if !ok {
		keys = make(map[string]*domain.ExpectationRecord)
		m.Expectations[jobID] = keys
	}
	if _, exists := keys[rec.Key]; !exists {
		keys[rec.Key] = rec
	}
	m.touchLocked(jobID, header)
	return nil
}

func (m *JobStore) WriteOutcome(ctx context.Context, jobID uuid.UUID, rec *domain.OutcomeRecord, header domain.MessageHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteOutcomeFn != nil {
		if err := m.WriteOutcomeFn(jobID, rec); err != nil {
			return err
		}
	}
	for _, existing := range m.Outcomes[jobID] {
		if existing.FilePath == rec.FilePath && existing.FilePath != "" {
			return domain.Validationf("duplicate outcome for file " + rec.FilePath)
		}
		if rec.AnonymisedFileName != "" && existing.AnonymisedFileName == rec.AnonymisedFileName && existing.FilePath == "" {
			existing.FilePath = rec.FilePath
			existing.Status = rec.Status
			existing.StatusMessage = rec.StatusMessage
			m.touchLocked(jobID, header)
			return nil
		}
	}
	stored := *rec
	stored.ID = uuid.New()
	m.Outcomes[jobID] = append(m.Outcomes[jobID], &stored)
	m.touchLocked(jobID, header)
	return nil
}

func (m *JobStore) MergeVerification(ctx context.Context, jobID uuid.UUID, res *domain.VerificationResult, header domain.MessageHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	safe := !res.IsIdentifiable
	for _, existing := range m.Outcomes[jobID] {
		if existing.AnonymisedFileName == res.AnonymisedFileName {
			existing.IsVerifiedSafe = &safe
			existing.VerificationReport = res.Report
			m.touchLocked(jobID, header)
			return nil
		}
	}
	m.Outcomes[jobID] = append(m.Outcomes[jobID], &domain.OutcomeRecord{
		ID:                 uuid.New(),
		AnonymisedFileName: res.AnonymisedFileName,
		IsVerifiedSafe:     &safe,
		VerificationReport: res.Report,
	})
	m.touchLocked(jobID, header)
	return nil
}

func (m *JobStore) touchLocked(jobID uuid.UUID, header domain.MessageHeader) {
	if job, ok := m.Jobs[jobID]; ok {
		job.ProducerHeader = header
		job.Revision++
		job.UpdatedAt = time.Now().UTC()
	}
}

func (m *JobStore) ExpectationTotals(ctx context.Context, jobID uuid.UUID) (*domain.ExpectationTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := &domain.ExpectationTotals{}
	for _, rec := range m.Expectations[jobID] {
		totals.KeyCount++
		totals.FileCount += len(rec.ExpectedFiles)
	}
	return totals, nil
}

func (m *JobStore) OutcomeCount(ctx context.Context, jobID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, rec := range m.Outcomes[jobID] {
		if rec.FilePath != "" {
			n++
		}
	}
	return n, nil
}

func (m *JobStore) AdvanceStatus(ctx context.Context, jobID uuid.UUID, from, to domain.JobStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AdvanceStatusFn != nil {
		if err := m.AdvanceStatusFn(jobID, from, to); err != nil {
			return false, err
		}
	}
	job, ok := m.Jobs[jobID]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	job.Revision++
	job.UpdatedAt = time.Now().UTC()
	m.Advances = append(m.Advances, StatusAdvance{JobID: jobID, From: from, To: to})
	return true, nil
}

func (m *JobStore) TerminalExists(ctx context.Context, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminalExistsLocked(jobID), nil
}

func (m *JobStore) CompleteJob(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Failure injection simulates a transaction abort: no state changes.
	if m.CompleteJobFn != nil {
		if err := m.CompleteJobFn(jobID); err != nil {
			return nil, err
		}
	}

	job, ok := m.Jobs[jobID]
	if !ok {
		if m.terminalExistsLocked(jobID) {
			return nil, &domain.InvalidStateError{Reason: "job " + jobID.String() + " already reached a terminal state"}
		}
		return nil, domain.ErrJobNotFound
	}
	if job.Status == domain.StatusFailed {
		return nil, &domain.InvalidStateError{Reason: "cannot complete failed job " + jobID.String()}
	}
	if job.IsPlaceholder() {
		return nil, &domain.ApplicationError{Reason: "job " + jobID.String() + " never received its submission event"}
	}
	if len(m.Expectations[jobID]) == 0 {
		return nil, &domain.ApplicationError{Reason: "job " + jobID.String() + " has no expectation records"}
	}
	if len(m.Outcomes[jobID]) == 0 {
		return nil, &domain.ApplicationError{Reason: "job " + jobID.String() + " has no outcome records"}
	}

	frozen := cloneJob(job)
	frozen.Status = domain.StatusCompleted
	completed := &domain.CompletedJob{
		Job:         *frozen,
		CompletedAt: time.Now().UTC(),
	}
	for _, rec := range m.Expectations[jobID] {
		completed.Expectations = append(completed.Expectations, *rec)
	}
	for _, rec := range m.Outcomes[jobID] {
		completed.Outcomes = append(completed.Outcomes, *rec)
	}

	m.Completed[jobID] = completed
	delete(m.Jobs, jobID)
	delete(m.Expectations, jobID)
	delete(m.Outcomes, jobID)
	return completed, nil
}

func (m *JobStore) FailJob(ctx context.Context, jobID uuid.UUID, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailJobFn != nil {
		if err := m.FailJobFn(jobID, cause); err != nil {
			return err
		}
	}

	job, ok := m.Jobs[jobID]
	if !ok {
		if m.terminalExistsLocked(jobID) {
			return &domain.InvalidStateError{Reason: "job " + jobID.String() + " already reached a terminal state"}
		}
		return domain.ErrJobNotFound
	}
	if job.Status == domain.StatusFailed {
		return &domain.InvalidStateError{Reason: "job " + jobID.String() + " is already failed"}
	}

	now := time.Now().UTC()
	job.Status = domain.StatusFailed
	job.FailureMessage = cause.Error()
	job.FailedAt = &now
	job.Revision++
	m.Quarantined[jobID] = &domain.QuarantinedJob{
		JobID:          jobID,
		FailedAt:       now,
		FailureMessage: cause.Error(),
		Job:            *cloneJob(job),
	}
	return nil
}

func (m *JobStore) GetCompletedJob(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	completed, ok := m.Completed[jobID]
	if !ok {
		return nil, domain.ErrCompletedJobNotFound
	}
	return completed, nil
}

func (m *JobStore) ListQuarantined(ctx context.Context) ([]*domain.QuarantinedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.QuarantinedJob
	for _, rec := range m.Quarantined {
		out = append(out, rec)
	}
	return out, nil
}

// ---- DedupStore mock ----

var _ repository.DedupStore = (*DedupStore)(nil)

// DedupStore is a test double for repository.DedupStore.
type DedupStore struct {
	mu sync.Mutex

	FirstDeliveryFn func(ctx context.Context, messageID uuid.UUID) (bool, error)

	Seen        map[uuid.UUID]bool
	ForgetCalls []uuid.UUID
}

// NewDedupStore creates an empty in-memory dedup store.
func NewDedupStore() *DedupStore {
	return &DedupStore{Seen: make(map[uuid.UUID]bool)}
}

func (m *DedupStore) FirstDelivery(ctx context.Context, messageID uuid.UUID) (bool, error) {
	if m.FirstDeliveryFn != nil {
		return m.FirstDeliveryFn(ctx, messageID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Seen[messageID] {
		return false, nil
	}
	m.Seen[messageID] = true
	return true, nil
}

func (m *DedupStore) Forget(ctx context.Context, messageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Seen, messageID)
	m.ForgetCalls = append(m.ForgetCalls, messageID)
	return nil
}
