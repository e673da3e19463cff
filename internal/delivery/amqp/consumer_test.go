package amqp

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/SMI/cohort-tracker/internal/domain"
)

func TestDecodeEvent_RoutesByQueueKind(t *testing.T) {
	jobID := uuid.New()

	cases := []struct {
		kind domain.EventKind
		body interface{}
	}{
		{
			kind: domain.KindJobSubmitted,
			body: &domain.JobSubmitted{
				JobID:            jobID,
				ProjectNumber:    "2024-0042",
				KeyTag:           "SeriesInstanceUID",
				ExpectedKeyCount: 2,
			},
		},
		{
			kind: domain.KindKeyExpectationReported,
			body: &domain.KeyExpectationReported{
				JobID: jobID,
				Key:   "series-1",
				DispatchedFiles: []domain.ExpectedFile{
					{EventID: uuid.New(), FilePath: "s1/a.dcm"},
				},
			},
		},
		{
			kind: domain.KindFileOutcomeReported,
			body: &domain.FileOutcomeReported{
				JobID:              jobID,
				FilePath:           "s1/a.dcm",
				Status:             domain.FileStatusSuccess,
				AnonymisedFileName: "anon-a.dcm",
			},
		},
		{
			kind: domain.KindFileVerificationReported,
			body: &domain.FileVerificationReported{
				JobID:              jobID,
				AnonymisedFileName: "anon-a.dcm",
				IsIdentifiable:     true,
				Report:             "burned-in annotation",
			},
		},
	}

	for _, tc := range cases {
		raw, err := json.Marshal(tc.body)
		if err != nil {
			t.Fatalf("marshal %s: %v", tc.kind, err)
		}
		evt, err := decodeEvent(tc.kind, raw)
		if err != nil {
			t.Fatalf("decode %s: %v", tc.kind, err)
		}
		if evt.Kind() != tc.kind {
			t.Errorf("decoded kind = %s, want %s", evt.Kind(), tc.kind)
		}
		if evt.Job() != jobID {
			t.Errorf("%s: decoded job id = %s, want %s", tc.kind, evt.Job(), jobID)
		}
	}
}

func TestDecodeEvent_Errors(t *testing.T) {
	if _, err := decodeEvent(domain.KindJobSubmitted, []byte("{not json")); err == nil {
		t.Error("malformed body should fail")
	}
	if _, err := decodeEvent(domain.EventKind("bogus"), []byte("{}")); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestEventQueues_CoverAllKinds(t *testing.T) {
	seen := make(map[domain.EventKind]string)
	for queue, kind := range eventQueues {
		if prev, dup := seen[kind]; dup {
			t.Errorf("kind %s mapped by both %s and %s", kind, prev, queue)
		}
		seen[kind] = queue
	}
	for _, kind := range []domain.EventKind{
		domain.KindJobSubmitted,
		domain.KindKeyExpectationReported,
		domain.KindFileOutcomeReported,
		domain.KindFileVerificationReported,
	} {
		if _, ok := seen[kind]; !ok {
			t.Errorf("no queue carries kind %s", kind)
		}
	}
}
