package domain_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/SMI/cohort-tracker/internal/domain"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := map[domain.JobStatus]bool{
		domain.StatusWaitingForCollectionInfo: false,
		domain.StatusWaitingForStatuses:       false,
		domain.StatusReadyForChecks:           false,
		domain.StatusCompleted:                true,
		domain.StatusFailed:                   true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestJobStatus_CanAdvanceTo(t *testing.T) {
	all := []domain.JobStatus{
		domain.StatusWaitingForCollectionInfo,
		domain.StatusWaitingForStatuses,
		domain.StatusReadyForChecks,
		domain.StatusCompleted,
		domain.StatusFailed,
	}

	allowed := map[domain.JobStatus]map[domain.JobStatus]bool{
		domain.StatusWaitingForCollectionInfo: {
			domain.StatusWaitingForStatuses: true,
			domain.StatusFailed:             true,
		},
		domain.StatusWaitingForStatuses: {
			domain.StatusReadyForChecks: true,
			domain.StatusFailed:         true,
		},
		domain.StatusReadyForChecks: {
			domain.StatusCompleted: true,
			domain.StatusFailed:    true,
		},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			if got := from.CanAdvanceTo(to); got != want {
				t.Errorf("%s.CanAdvanceTo(%s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

// Terminal states accept no transition at all, including to themselves.
func TestJobStatus_TerminalStatesAreAbsorbing(t *testing.T) {
	for _, from := range []domain.JobStatus{domain.StatusCompleted, domain.StatusFailed} {
		for _, to := range []domain.JobStatus{
			domain.StatusWaitingForCollectionInfo,
			domain.StatusWaitingForStatuses,
			domain.StatusReadyForChecks,
			domain.StatusCompleted,
			domain.StatusFailed,
		} {
			if from.CanAdvanceTo(to) {
				t.Errorf("%s.CanAdvanceTo(%s) should be false", from, to)
			}
		}
	}
}

func TestJobRecord_IsPlaceholder(t *testing.T) {
	job := &domain.JobRecord{JobID: uuid.New()}
	if !job.IsPlaceholder() {
		t.Error("record without expected key count should be a placeholder")
	}
	count := 2
	job.ExpectedKeyCount = &count
	if job.IsPlaceholder() {
		t.Error("record with expected key count should not be a placeholder")
	}
}

func completedFixture() *domain.CompletedJob {
	safe := true
	unsafe := false
	return &domain.CompletedJob{
		Expectations: []domain.ExpectationRecord{
			{
				Key: "1.2.840.1",
				ExpectedFiles: []domain.ExpectedFile{
					{EventID: uuid.New(), FilePath: "series1/a.dcm"},
					{EventID: uuid.New(), FilePath: "series1/b.dcm"},
				},
				Rejections: map[string]int{"corrupt file": 2},
			},
			{
				Key: "1.2.840.2",
				ExpectedFiles: []domain.ExpectedFile{
					{EventID: uuid.New(), FilePath: "series2/c.dcm"},
				},
				Rejections: map[string]int{"corrupt file": 1, "wrong modality": 3},
			},
		},
		Outcomes: []domain.OutcomeRecord{
			{
				FilePath:           "series1/a.dcm",
				AnonymisedFileName: "anon-a.dcm",
				Status:             domain.FileStatusSuccess,
				IsVerifiedSafe:     &safe,
			},
			{
				FilePath:      "series1/b.dcm",
				Status:        domain.FileStatusFailed,
				StatusMessage: "pixel data unreadable",
			},
			{
				FilePath:           "series2/c.dcm",
				AnonymisedFileName: "anon-c.dcm",
				Status:             domain.FileStatusSuccess,
				IsVerifiedSafe:     &unsafe,
				VerificationReport: "burned-in annotation",
			},
		},
	}
}

func TestCompletedJob_Rejections(t *testing.T) {
	got := completedFixture().Rejections()
	want := map[string]int{"corrupt file": 3, "wrong modality": 3}
	if len(got) != len(want) {
		t.Fatalf("got %d reasons, want %d", len(got), len(want))
	}
	for reason, n := range want {
		if got[reason] != n {
			t.Errorf("rejections[%q] = %d, want %d", reason, got[reason], n)
		}
	}
}

func TestCompletedJob_AnonymisationFailures(t *testing.T) {
	got := completedFixture().AnonymisationFailures()
	if len(got) != 1 || got[0].FilePath != "series1/b.dcm" {
		t.Fatalf("unexpected failures: %+v", got)
	}
}

func TestCompletedJob_VerificationFailures(t *testing.T) {
	got := completedFixture().VerificationFailures()
	if len(got) != 1 || got[0].AnonymisedFileName != "anon-c.dcm" {
		t.Fatalf("unexpected failures: %+v", got)
	}
}

func TestCompletedJob_MissingFiles(t *testing.T) {
	c := completedFixture()
	if missing := c.MissingFiles(); len(missing) != 0 {
		t.Fatalf("expected no missing files, got %v", missing)
	}

	// Drop one outcome and its file should be reported missing.
	c.Outcomes = c.Outcomes[:2]
	missing := c.MissingFiles()
	if len(missing) != 1 || missing[0] != "series2/c.dcm" {
		t.Fatalf("unexpected missing files: %v", missing)
	}
}

func TestJobRecord_Summary(t *testing.T) {
	count := 3
	job := &domain.JobRecord{
		JobID:               uuid.New(),
		ProjectNumber:       "2024-0042",
		ExtractionDirectory: "extractions/2024-0042",
		KeyTag:              "SeriesInstanceUID",
		ExpectedKeyCount:    &count,
		Status:              domain.StatusReadyForChecks,
	}
	s := job.Summary()
	if s.JobID != job.JobID || s.Status != domain.StatusReadyForChecks || s.ProjectNumber != "2024-0042" {
		t.Fatalf("unexpected summary: %+v", s)
	}
}
