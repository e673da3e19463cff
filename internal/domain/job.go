package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

const (
	StatusWaitingForCollectionInfo JobStatus = "WAITING_FOR_COLLECTION_INFO"
	StatusWaitingForStatuses       JobStatus = "WAITING_FOR_STATUSES"
	StatusReadyForChecks           JobStatus = "READY_FOR_CHECKS"
	StatusCompleted                JobStatus = "COMPLETED"
	StatusFailed                   JobStatus = "FAILED"
)

// IsTerminal returns true if the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether the state machine permits moving from s to next.
// Jobs only ever move forward; terminal states are absorbing.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	switch s {
	case StatusWaitingForCollectionInfo:
		return next == StatusWaitingForStatuses || next == StatusFailed
	case StatusWaitingForStatuses:
		return next == StatusReadyForChecks || next == StatusFailed
	case StatusReadyForChecks:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// StudyKeyTag is the one extraction key tag that carries a modality classifier.
// The rule is preserved as-is from the upstream data contract: a modality is
// present if and only if the key tag is exactly this value.
const StudyKeyTag = "StudyInstanceUID"

// MessageHeader carries provenance metadata for the event that last mutated a
// record. Informational only; never part of any business decision.
type MessageHeader struct {
	MessageID uuid.UUID   `json:"message_id"`
	Producer  string      `json:"producer"`
	Parents   []uuid.UUID `json:"parents,omitempty"`
	EmittedAt time.Time   `json:"emitted_at"`
}

// JobRecord is the authoritative in-progress record for one extraction job.
//
// A record created by a key-expectation event arriving before the job-submitted
// event is a placeholder: ExpectedKeyCount is nil and the caller-supplied fields
// are empty until the job-submitted event fills them in.
type JobRecord struct {
	JobID               uuid.UUID     `json:"job_id"`
	SubmittedAt         time.Time     `json:"submitted_at"`
	ProjectNumber       string        `json:"project_number"`
	ExtractionDirectory string        `json:"extraction_directory"`
	KeyTag              string        `json:"key_tag"`
	ExpectedKeyCount    *int          `json:"expected_key_count,omitempty"`
	Modality            string        `json:"modality,omitempty"`
	IsIdentifiable      bool          `json:"is_identifiable_extraction"`
	IsNoFilter          bool          `json:"is_no_filter_extraction"`
	Status              JobStatus     `json:"status"`
	FailureMessage      string        `json:"failure_message,omitempty"`
	FailedAt            *time.Time    `json:"failed_at,omitempty"`
	ProducerHeader      MessageHeader `json:"producer_header"`
	Revision            int           `json:"-"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// IsPlaceholder reports whether the record is still waiting for its
// job-submitted event.
func (j *JobRecord) IsPlaceholder() bool {
	return j.ExpectedKeyCount == nil
}

// ExpectedFile is one file dispatched for processing under an extraction key.
type ExpectedFile struct {
	EventID  uuid.UUID `json:"event_id"`
	FilePath string    `json:"file_path"`
}

// ExpectationRecord holds, per extraction key, the files dispatched for
// processing and the tally of files rejected before dispatch.
type ExpectationRecord struct {
	Key           string         `json:"key"`
	ExpectedFiles []ExpectedFile `json:"expected_files"`
	Rejections    map[string]int `json:"rejections"`
}

// FileStatus is the terminal outcome of one produced file.
type FileStatus string

const (
	FileStatusSuccess FileStatus = "SUCCESS"
	FileStatusFailed  FileStatus = "FAILED"

	// FileStatusVerifiedSafe is only ever produced by the verification event
	// stream. An anonymisation-outcome event carrying it is a contract
	// violation.
	FileStatusVerifiedSafe FileStatus = "VERIFIED_SAFE"
)

// OutcomeRecord is the terminal per-file result, later enriched with the
// content-safety verification result. Immutable once written: a second outcome
// event for the same file is a contract violation, not an update.
type OutcomeRecord struct {
	ID                 uuid.UUID  `json:"id"`
	FilePath           string     `json:"file_path"`
	AnonymisedFileName string     `json:"anonymised_file_name,omitempty"`
	Status             FileStatus `json:"status,omitempty"`
	StatusMessage      string     `json:"status_message,omitempty"`
	IsVerifiedSafe     *bool      `json:"is_verified_safe,omitempty"`
	VerificationReport string     `json:"verification_report,omitempty"`
}

// VerificationResult is the content-safety verdict for one produced file,
// keyed by its anonymised output name.
type VerificationResult struct {
	AnonymisedFileName string `json:"anonymised_file_name"`
	IsIdentifiable     bool   `json:"is_identifiable"`
	Report             string `json:"report,omitempty"`
}

// ExpectationTotals are the durable counts the readiness predicate is computed
// from.
type ExpectationTotals struct {
	KeyCount  int
	FileCount int
}

// CompletedJob is the single merged document written to completed storage when
// a job finishes. Downstream reporting reads only this.
type CompletedJob struct {
	Job          JobRecord           `json:"job"`
	Expectations []ExpectationRecord `json:"expectations"`
	Outcomes     []OutcomeRecord     `json:"outcomes"`
	CompletedAt  time.Time           `json:"completed_at"`
}

// Rejections flattens the per-key rejection tallies of a completed job into a
// single reason → count map.
func (c *CompletedJob) Rejections() map[string]int {
	out := make(map[string]int)
	for _, exp := range c.Expectations {
		for reason, n := range exp.Rejections {
			out[reason] += n
		}
	}
	return out
}

// AnonymisationFailures returns the outcomes whose anonymisation failed.
func (c *CompletedJob) AnonymisationFailures() []OutcomeRecord {
	var out []OutcomeRecord
	for _, o := range c.Outcomes {
		if o.Status == FileStatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// VerificationFailures returns the outcomes judged identifiable by the
// content-safety check.
func (c *CompletedJob) VerificationFailures() []OutcomeRecord {
	var out []OutcomeRecord
	for _, o := range c.Outcomes {
		if o.IsVerifiedSafe != nil && !*o.IsVerifiedSafe {
			out = append(out, o)
		}
	}
	return out
}

// MissingFiles returns the dispatched file paths that never produced an
// outcome record.
func (c *CompletedJob) MissingFiles() []string {
	seen := make(map[string]bool, len(c.Outcomes))
	for _, o := range c.Outcomes {
		if o.FilePath != "" {
			seen[o.FilePath] = true
		}
	}
	var out []string
	for _, exp := range c.Expectations {
		for _, f := range exp.ExpectedFiles {
			if !seen[f.FilePath] {
				out = append(out, f.FilePath)
			}
		}
	}
	return out
}

// QuarantinedJob is a job record frozen at the moment of failure, stored
// separately so operators can triage without touching active processing.
type QuarantinedJob struct {
	JobID          uuid.UUID `json:"job_id"`
	FailedAt       time.Time `json:"failed_at"`
	FailureMessage string    `json:"failure_message"`
	Job            JobRecord `json:"job"`
}

// JobSummary is the read model returned by the ready-jobs query.
type JobSummary struct {
	JobID               uuid.UUID `json:"job_id"`
	ProjectNumber       string    `json:"project_number"`
	ExtractionDirectory string    `json:"extraction_directory"`
	KeyTag              string    `json:"key_tag"`
	Status              JobStatus `json:"status"`
	SubmittedAt         time.Time `json:"submitted_at"`
}

// Summary converts a job record to its query read model.
func (j *JobRecord) Summary() JobSummary {
	return JobSummary{
		JobID:               j.JobID,
		ProjectNumber:       j.ProjectNumber,
		ExtractionDirectory: j.ExtractionDirectory,
		KeyTag:              j.KeyTag,
		Status:              j.Status,
		SubmittedAt:         j.SubmittedAt,
	}
}
