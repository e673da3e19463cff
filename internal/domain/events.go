package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// EventKind discriminates the four inbound event contracts.
type EventKind string

const (
	KindJobSubmitted             EventKind = "job_submitted"
	KindKeyExpectationReported   EventKind = "key_expectation_reported"
	KindFileOutcomeReported      EventKind = "file_outcome_reported"
	KindFileVerificationReported EventKind = "file_verification_reported"
)

// Event is the closed union of inbound event kinds. The aggregation engine
// exposes a single ingestion entry point that dispatches on Kind.
type Event interface {
	Kind() EventKind
	Job() uuid.UUID
	Header() MessageHeader

	// Validate checks the event's own data contract, independent of any
	// store state. Violations are ValidationErrors.
	Validate() error
}

// JobSubmitted announces a new extraction job and fixes its immutable fields.
type JobSubmitted struct {
	JobID               uuid.UUID     `json:"job_id"`
	SubmittedAt         string        `json:"submitted_at,omitempty"`
	ProjectNumber       string        `json:"project_number"`
	ExtractionDirectory string        `json:"extraction_directory"`
	KeyTag              string        `json:"key_tag"`
	ExpectedKeyCount    int           `json:"expected_key_count"`
	Modality            string        `json:"modality,omitempty"`
	IsIdentifiable      bool          `json:"is_identifiable_extraction"`
	IsNoFilter          bool          `json:"is_no_filter_extraction"`
	MessageHeader       MessageHeader `json:"header"`
}

func (e *JobSubmitted) Kind() EventKind       { return KindJobSubmitted }
func (e *JobSubmitted) Job() uuid.UUID        { return e.JobID }
func (e *JobSubmitted) Header() MessageHeader { return e.MessageHeader }

func (e *JobSubmitted) Validate() error {
	if e.JobID == uuid.Nil {
		return Validationf("job_submitted: missing job id")
	}
	if e.KeyTag == "" {
		return Validationf("job_submitted: missing key tag")
	}
	if e.ExpectedKeyCount <= 0 {
		return Validationf(fmt.Sprintf("job_submitted: expected key count must be > 0, got %d", e.ExpectedKeyCount))
	}
	if e.ProjectNumber == "" {
		return Validationf("job_submitted: missing project number")
	}
	if e.ExtractionDirectory == "" {
		return Validationf("job_submitted: missing extraction directory")
	}
	// Modality travels with StudyInstanceUID jobs and no others.
	if (e.KeyTag == StudyKeyTag) != (e.Modality != "") {
		return Validationf(fmt.Sprintf("job_submitted: modality %q does not agree with key tag %q", e.Modality, e.KeyTag))
	}
	return nil
}

// KeyExpectationReported declares, for one extraction key, which files were
// dispatched for processing and which were rejected before dispatch.
type KeyExpectationReported struct {
	JobID           uuid.UUID      `json:"job_id"`
	Key             string         `json:"key"`
	DispatchedFiles []ExpectedFile `json:"dispatched_files"`
	Rejections      map[string]int `json:"rejections,omitempty"`
	MessageHeader   MessageHeader  `json:"header"`
}

func (e *KeyExpectationReported) Kind() EventKind       { return KindKeyExpectationReported }
func (e *KeyExpectationReported) Job() uuid.UUID        { return e.JobID }
func (e *KeyExpectationReported) Header() MessageHeader { return e.MessageHeader }

func (e *KeyExpectationReported) Validate() error {
	if e.JobID == uuid.Nil {
		return Validationf("key_expectation: missing job id")
	}
	if e.Key == "" {
		return Validationf("key_expectation: missing extraction key")
	}
	if len(e.DispatchedFiles) == 0 && len(e.Rejections) == 0 {
		return Validationf("key_expectation: no dispatched files and no rejections for key " + e.Key)
	}
	for _, f := range e.DispatchedFiles {
		if f.FilePath == "" {
			return Validationf("key_expectation: dispatched file with empty path under key " + e.Key)
		}
		if f.EventID == uuid.Nil {
			return Validationf("key_expectation: dispatched file " + f.FilePath + " missing event id")
		}
	}
	for reason, n := range e.Rejections {
		if reason == "" || n <= 0 {
			return Validationf("key_expectation: malformed rejection tally for key " + e.Key)
		}
	}
	return nil
}

// Record converts the event into the expectation record stored per key.
func (e *KeyExpectationReported) Record() *ExpectationRecord {
	rejections := e.Rejections
	if rejections == nil {
		rejections = map[string]int{}
	}
	return &ExpectationRecord{
		Key:           e.Key,
		ExpectedFiles: e.DispatchedFiles,
		Rejections:    rejections,
	}
}

// FileOutcomeReported carries the anonymisation outcome for one dispatched
// file. Verification verdicts arrive on a separate stream and must never be
// encoded here.
type FileOutcomeReported struct {
	JobID              uuid.UUID     `json:"job_id"`
	FilePath           string        `json:"file_path"`
	Status             FileStatus    `json:"status"`
	AnonymisedFileName string        `json:"anonymised_file_name,omitempty"`
	StatusMessage      string        `json:"status_message,omitempty"`
	MessageHeader      MessageHeader `json:"header"`
}

func (e *FileOutcomeReported) Kind() EventKind       { return KindFileOutcomeReported }
func (e *FileOutcomeReported) Job() uuid.UUID        { return e.JobID }
func (e *FileOutcomeReported) Header() MessageHeader { return e.MessageHeader }

func (e *FileOutcomeReported) Validate() error {
	if e.JobID == uuid.Nil {
		return Validationf("file_outcome: missing job id")
	}
	if e.FilePath == "" {
		return Validationf("file_outcome: missing file path")
	}
	switch e.Status {
	case FileStatusSuccess:
		if e.AnonymisedFileName == "" {
			return Validationf("file_outcome: success without anonymised file name for " + e.FilePath)
		}
	case FileStatusFailed:
		if e.StatusMessage == "" {
			return Validationf("file_outcome: failure without status message for " + e.FilePath)
		}
	case FileStatusVerifiedSafe:
		return Validationf("file_outcome: verified-safe status belongs to the verification stream, got it for " + e.FilePath)
	default:
		return Validationf(fmt.Sprintf("file_outcome: unknown status %q for %s", e.Status, e.FilePath))
	}
	return nil
}

// Record converts the event into the outcome record stored per file.
func (e *FileOutcomeReported) Record() *OutcomeRecord {
	return &OutcomeRecord{
		FilePath:           e.FilePath,
		AnonymisedFileName: e.AnonymisedFileName,
		Status:             e.Status,
		StatusMessage:      e.StatusMessage,
	}
}

// FileVerificationReported carries the content-safety verdict for one
// produced file, keyed by its anonymised output name.
type FileVerificationReported struct {
	JobID              uuid.UUID     `json:"job_id"`
	AnonymisedFileName string        `json:"anonymised_file_name"`
	IsIdentifiable     bool          `json:"is_identifiable"`
	Report             string        `json:"report,omitempty"`
	MessageHeader      MessageHeader `json:"header"`
}

func (e *FileVerificationReported) Kind() EventKind       { return KindFileVerificationReported }
func (e *FileVerificationReported) Job() uuid.UUID        { return e.JobID }
func (e *FileVerificationReported) Header() MessageHeader { return e.MessageHeader }

func (e *FileVerificationReported) Validate() error {
	if e.JobID == uuid.Nil {
		return Validationf("file_verification: missing job id")
	}
	if e.AnonymisedFileName == "" {
		return Validationf("file_verification: missing anonymised file name")
	}
	// Exactly one of "safe, no report" / "identifiable, with report".
	if e.IsIdentifiable && e.Report == "" {
		return Validationf("file_verification: identifiable verdict without a report for " + e.AnonymisedFileName)
	}
	if !e.IsIdentifiable && e.Report != "" {
		return Validationf("file_verification: safe verdict must not carry a report for " + e.AnonymisedFileName)
	}
	return nil
}

// Result converts the event into the verification result merged into the
// outcome record.
func (e *FileVerificationReported) Result() *VerificationResult {
	return &VerificationResult{
		AnonymisedFileName: e.AnonymisedFileName,
		IsIdentifiable:     e.IsIdentifiable,
		Report:             e.Report,
	}
}
