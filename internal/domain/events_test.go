package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/SMI/cohort-tracker/internal/domain"
)

func testHeader() domain.MessageHeader {
	return domain.MessageHeader{
		MessageID: uuid.New(),
		Producer:  "test-producer",
		EmittedAt: time.Now().UTC(),
	}
}

func validSubmission() *domain.JobSubmitted {
	return &domain.JobSubmitted{
		JobID:               uuid.New(),
		ProjectNumber:       "2024-0042",
		ExtractionDirectory: "extractions/2024-0042",
		KeyTag:              "SeriesInstanceUID",
		ExpectedKeyCount:    3,
		MessageHeader:       testHeader(),
	}
}

func assertValidation(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var v *domain.ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}

func TestJobSubmitted_Valid(t *testing.T) {
	if err := validSubmission().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJobSubmitted_RejectsNonPositiveKeyCount(t *testing.T) {
	for _, count := range []int{0, -1} {
		evt := validSubmission()
		evt.ExpectedKeyCount = count
		assertValidation(t, evt.Validate())
	}
}

func TestJobSubmitted_RejectsMissingFields(t *testing.T) {
	evt := validSubmission()
	evt.JobID = uuid.Nil
	assertValidation(t, evt.Validate())

	evt = validSubmission()
	evt.KeyTag = ""
	assertValidation(t, evt.Validate())

	evt = validSubmission()
	evt.ProjectNumber = ""
	assertValidation(t, evt.Validate())

	evt = validSubmission()
	evt.ExtractionDirectory = ""
	assertValidation(t, evt.Validate())
}

// The modality classifier travels with StudyInstanceUID jobs and no others.
func TestJobSubmitted_ModalityRule(t *testing.T) {
	evt := validSubmission()
	evt.KeyTag = domain.StudyKeyTag
	evt.Modality = "CT"
	if err := evt.Validate(); err != nil {
		t.Fatalf("study key tag with modality should be valid: %v", err)
	}

	// Study key tag without a modality.
	evt = validSubmission()
	evt.KeyTag = domain.StudyKeyTag
	evt.Modality = ""
	assertValidation(t, evt.Validate())

	// Modality on a non-study key tag.
	evt = validSubmission()
	evt.KeyTag = "SeriesInstanceUID"
	evt.Modality = "CT"
	assertValidation(t, evt.Validate())
}

func validExpectation() *domain.KeyExpectationReported {
	return &domain.KeyExpectationReported{
		JobID: uuid.New(),
		Key:   "1.2.840.1",
		DispatchedFiles: []domain.ExpectedFile{
			{EventID: uuid.New(), FilePath: "series1/a.dcm"},
			{EventID: uuid.New(), FilePath: "series1/b.dcm"},
		},
		MessageHeader: testHeader(),
	}
}

func TestKeyExpectation_Valid(t *testing.T) {
	if err := validExpectation().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKeyExpectation_FullyRejectedKeyIsValid(t *testing.T) {
	evt := validExpectation()
	evt.DispatchedFiles = nil
	evt.Rejections = map[string]int{"corrupt file": 2}
	if err := evt.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKeyExpectation_RejectsEmptyKey(t *testing.T) {
	evt := validExpectation()
	evt.Key = ""
	assertValidation(t, evt.Validate())
}

func TestKeyExpectation_RejectsNoFilesAndNoRejections(t *testing.T) {
	evt := validExpectation()
	evt.DispatchedFiles = nil
	evt.Rejections = nil
	assertValidation(t, evt.Validate())
}

func TestKeyExpectation_RejectsMalformedFiles(t *testing.T) {
	evt := validExpectation()
	evt.DispatchedFiles[0].FilePath = ""
	assertValidation(t, evt.Validate())

	evt = validExpectation()
	evt.DispatchedFiles[1].EventID = uuid.Nil
	assertValidation(t, evt.Validate())
}

func TestFileOutcome_Valid(t *testing.T) {
	evt := &domain.FileOutcomeReported{
		JobID:              uuid.New(),
		FilePath:           "series1/a.dcm",
		Status:             domain.FileStatusSuccess,
		AnonymisedFileName: "anon-a.dcm",
		MessageHeader:      testHeader(),
	}
	if err := evt.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evt = &domain.FileOutcomeReported{
		JobID:         uuid.New(),
		FilePath:      "series1/b.dcm",
		Status:        domain.FileStatusFailed,
		StatusMessage: "could not anonymise",
		MessageHeader: testHeader(),
	}
	if err := evt.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Verified-safe verdicts arrive only on the verification stream; an outcome
// event asserting one is a contract violation.
func TestFileOutcome_RejectsVerifiedSafeStatus(t *testing.T) {
	evt := &domain.FileOutcomeReported{
		JobID:         uuid.New(),
		FilePath:      "series1/a.dcm",
		Status:        domain.FileStatusVerifiedSafe,
		MessageHeader: testHeader(),
	}
	assertValidation(t, evt.Validate())
}

func TestFileOutcome_RejectsInconsistentFields(t *testing.T) {
	// Success without an output name.
	evt := &domain.FileOutcomeReported{
		JobID:         uuid.New(),
		FilePath:      "series1/a.dcm",
		Status:        domain.FileStatusSuccess,
		MessageHeader: testHeader(),
	}
	assertValidation(t, evt.Validate())

	// Failure without a message.
	evt = &domain.FileOutcomeReported{
		JobID:         uuid.New(),
		FilePath:      "series1/a.dcm",
		Status:        domain.FileStatusFailed,
		MessageHeader: testHeader(),
	}
	assertValidation(t, evt.Validate())

	// Unknown status.
	evt = &domain.FileOutcomeReported{
		JobID:         uuid.New(),
		FilePath:      "series1/a.dcm",
		Status:        "BOGUS",
		MessageHeader: testHeader(),
	}
	assertValidation(t, evt.Validate())
}

// Exactly one of "safe, no report" / "identifiable, with report".
func TestFileVerification_ReportRule(t *testing.T) {
	evt := &domain.FileVerificationReported{
		JobID:              uuid.New(),
		AnonymisedFileName: "anon-a.dcm",
		IsIdentifiable:     false,
		MessageHeader:      testHeader(),
	}
	if err := evt.Validate(); err != nil {
		t.Fatalf("safe without report should be valid: %v", err)
	}

	evt.IsIdentifiable = true
	evt.Report = "found burned-in name"
	if err := evt.Validate(); err != nil {
		t.Fatalf("identifiable with report should be valid: %v", err)
	}

	evt.Report = ""
	assertValidation(t, evt.Validate())

	evt.IsIdentifiable = false
	evt.Report = "should not be here"
	assertValidation(t, evt.Validate())

	evt = &domain.FileVerificationReported{
		JobID:         uuid.New(),
		MessageHeader: testHeader(),
	}
	assertValidation(t, evt.Validate())
}
