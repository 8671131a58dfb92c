package recognition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/store"
)

type fakeLiveness struct {
	live bool
	err  error
}

func (f *fakeLiveness) IsLive(ctx context.Context, image []byte) (bool, error) {
	return f.live, f.err
}

type fakeExtractor struct {
	embedding []float32
	err       error
	calls     int
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

type fakeQuality struct {
	quality float64
	err     error
	calls   int
}

func (f *fakeQuality) Quality(ctx context.Context, image []byte) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.quality, nil
}

// blockingQuality holds every Quality call until release is closed.
type blockingQuality struct {
	quality float64
	release chan struct{}
	calls   int
}

func (f *blockingQuality) Quality(ctx context.Context, image []byte) (float64, error) {
	<-f.release
	f.calls++
	return f.quality, nil
}

type fakeStore struct {
	templates []store.Template

	snapshotErr    error
	snapshotCalls  int
	recordedID     string
	recordedSlot   int
	recordedSim    float64
	recordCalls    int
	recordErr      error
	proposeOutcome store.Outcome
	proposeErr     error
	proposeCalls   int
	proposedID     string
	proposedQual   float64
	proposedConf   float64
}

func (f *fakeStore) Snapshot(ctx context.Context) ([]store.Template, error) {
	f.snapshotCalls++
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.templates, nil
}

func (f *fakeStore) RecordMatch(ctx context.Context, employeeID string, slot int, similarity float64) error {
	f.recordCalls++
	f.recordedID = employeeID
	f.recordedSlot = slot
	f.recordedSim = similarity
	return f.recordErr
}

func (f *fakeStore) ProposeSecondary(ctx context.Context, employeeID string, embedding []float32, quality, confidence float64, source store.Source) (store.Outcome, error) {
	f.proposeCalls++
	f.proposedID = employeeID
	f.proposedQual = quality
	f.proposedConf = confidence
	if f.proposeErr != nil {
		return store.Outcome{}, f.proposeErr
	}
	return f.proposeOutcome, nil
}

func testRecognitionConfig() config.RecognitionConfig {
	return config.RecognitionConfig{
		RecognitionThreshold:        0.75,
		HighConfidenceThreshold:     0.85,
		VeryHighConfidenceThreshold: 0.90,
		MinQualityForLearning:       0.80,
		MinConfidenceForLearning:    0.85,
	}
}

func templateFor(employeeID string, slot int, embedding []float32) store.Template {
	return store.Template{
		EmployeeID: employeeID,
		Slot:       slot,
		Embedding:  embedding,
		CreatedAt:  time.Now(),
	}
}

func newTestPipeline(ts TemplateStore, lv LivenessChecker, ex EmbeddingExtractor, q QualityEstimator) *Pipeline {
	return NewPipeline(ts, lv, ex, q, testRecognitionConfig(), logger.NewNop(), WithSynchronousLearning())
}

func TestRecognizeSpoofRejected(t *testing.T) {
	st := &fakeStore{templates: []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})}}
	ex := &fakeExtractor{embedding: []float32{1, 0, 0}}
	p := newTestPipeline(st, &fakeLiveness{live: false}, ex, &fakeQuality{quality: 0.9})
	defer p.Close()

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Status != StatusSpoofRejected {
		t.Errorf("expected spoof rejection, got %s", verdict.Status)
	}
	if ex.calls != 0 {
		t.Error("spoof must stop before embedding extraction")
	}
	if st.snapshotCalls != 0 {
		t.Error("spoof must stop before the store is read")
	}
}

func TestRecognizeLivenessFailsOpen(t *testing.T) {
	st := &fakeStore{templates: []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})}}
	p := newTestPipeline(st, &fakeLiveness{err: fmt.Errorf("connection refused")},
		&fakeExtractor{embedding: []float32{1, 0, 0}}, &fakeQuality{quality: 0.5})
	defer p.Close()

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Status != StatusRecognized {
		t.Errorf("liveness outage must not block recognition, got %s", verdict.Status)
	}
}

func TestRecognizeNoTemplates(t *testing.T) {
	st := &fakeStore{}
	ex := &fakeExtractor{embedding: []float32{1, 0, 0}}
	p := newTestPipeline(st, &fakeLiveness{live: true}, ex, &fakeQuality{quality: 0.9})
	defer p.Close()

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Status != StatusNoTemplates {
		t.Errorf("expected no_templates, got %s", verdict.Status)
	}
	if ex.calls != 0 {
		t.Error("empty population must skip embedding extraction")
	}
}

func TestRecognizeExtractionFailed(t *testing.T) {
	st := &fakeStore{templates: []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})}}
	p := newTestPipeline(st, &fakeLiveness{live: true},
		&fakeExtractor{err: fmt.Errorf("model timeout")}, &fakeQuality{quality: 0.9})
	defer p.Close()

	_, err := p.Recognize(context.Background(), []byte("frame"))
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("expected ErrExtractionFailed, got %v", err)
	}
}

func TestRecognizeBelowThreshold(t *testing.T) {
	// Query at 45 degrees from the stored template: similarity well below
	// the 0.75 threshold after clamping.
	st := &fakeStore{templates: []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})}}
	q := &fakeQuality{quality: 0.95}
	p := newTestPipeline(st, &fakeLiveness{live: true},
		&fakeExtractor{embedding: []float32{1, 1, 0}}, q)
	defer p.Close()

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Status != StatusNoMatch {
		t.Fatalf("expected no_match, got %s", verdict.Status)
	}
	if verdict.Recognized {
		t.Error("miss must not be recognized")
	}
	if verdict.EmployeeHint != "emp-1" {
		t.Errorf("expected nearest-employee hint, got %q", verdict.EmployeeHint)
	}
	if verdict.Tier != TierLow {
		t.Errorf("expected LOW tier, got %s", verdict.Tier)
	}
	if st.recordCalls != 0 {
		t.Error("miss must not record match statistics")
	}
	if q.calls != 0 {
		t.Error("miss must not reach the learning gate")
	}
}

func TestRecognizeSuccess(t *testing.T) {
	st := &fakeStore{
		templates:      []store.Template{templateFor("emp-1", 1, []float32{1, 0, 0})},
		proposeOutcome: store.Outcome{Kind: store.OutcomeInserted, Slot: 2},
	}
	p := newTestPipeline(st, &fakeLiveness{live: true},
		&fakeExtractor{embedding: []float32{1, 0, 0}}, &fakeQuality{quality: 0.9})
	defer p.Close()

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Recognized || verdict.EmployeeID != "emp-1" {
		t.Fatalf("expected recognition of emp-1, got %+v", verdict)
	}
	if verdict.Tier != TierVeryHigh {
		t.Errorf("identical embedding should classify VERY_HIGH, got %s", verdict.Tier)
	}
	if verdict.MatchedSlot == nil || *verdict.MatchedSlot != 1 {
		t.Errorf("expected matched slot 1, got %v", verdict.MatchedSlot)
	}

	if st.recordCalls != 1 || st.recordedID != "emp-1" || st.recordedSlot != 1 {
		t.Errorf("match statistics not recorded: %+v", st)
	}
	if st.proposeCalls != 1 {
		t.Fatalf("expected one learning proposal, got %d", st.proposeCalls)
	}
	if !verdict.Learned {
		t.Error("expected learned flag")
	}
	if st.proposedQual != 0.9 {
		t.Errorf("expected proposal quality 0.9, got %f", st.proposedQual)
	}
}

func TestRecognizeRecordMatchErrorIsNotFatal(t *testing.T) {
	st := &fakeStore{
		templates: []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})},
		recordErr: fmt.Errorf("database down"),
	}
	p := newTestPipeline(st, &fakeLiveness{live: true},
		&fakeExtractor{embedding: []float32{1, 0, 0}}, &fakeQuality{quality: 0.5})
	defer p.Close()

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Status != StatusRecognized {
		t.Errorf("statistics failure must not undo recognition, got %s", verdict.Status)
	}
}

func TestLearningGate(t *testing.T) {
	tests := []struct {
		name        string
		embedding   []float32
		quality     float64
		qualityErr  error
		wantPropose int
		wantQuality int
	}{
		{
			// Identical embedding, similarity 1.0, quality above gate.
			name:        "passes both gates",
			embedding:   []float32{1, 0, 0},
			quality:     0.85,
			wantPropose: 1,
			wantQuality: 1,
		},
		{
			// Similarity exactly 0.80: recognized but below the 0.85
			// learning confidence gate.
			name:        "below confidence gate",
			embedding:   []float32{1, 0.75, 0},
			quality:     0.95,
			wantPropose: 0,
			wantQuality: 0,
		},
		{
			name:        "below quality gate",
			embedding:   []float32{1, 0, 0},
			quality:     0.60,
			wantPropose: 0,
			wantQuality: 1,
		},
		{
			name:        "quality estimator down",
			embedding:   []float32{1, 0, 0},
			qualityErr:  fmt.Errorf("model unavailable"),
			wantPropose: 0,
			wantQuality: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{
				templates:      []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})},
				proposeOutcome: store.Outcome{Kind: store.OutcomeInserted, Slot: 1},
			}
			q := &fakeQuality{quality: tt.quality, err: tt.qualityErr}
			p := newTestPipeline(st, &fakeLiveness{live: true},
				&fakeExtractor{embedding: tt.embedding}, q)
			defer p.Close()

			verdict, err := p.Recognize(context.Background(), []byte("frame"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if verdict.Status != StatusRecognized {
				t.Fatalf("expected recognition, got %s", verdict.Status)
			}
			if st.proposeCalls != tt.wantPropose {
				t.Errorf("expected %d proposals, got %d", tt.wantPropose, st.proposeCalls)
			}
			if q.calls != tt.wantQuality {
				t.Errorf("expected %d quality calls, got %d", tt.wantQuality, q.calls)
			}
			if tt.wantPropose == 0 && verdict.Learned {
				t.Error("gated proposal must not set the learned flag")
			}
		})
	}
}

func TestSynchronousLearningReportsEviction(t *testing.T) {
	evictedSlot := 3
	st := &fakeStore{
		templates:      []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})},
		proposeOutcome: store.Outcome{Kind: store.OutcomeReplaced, Slot: evictedSlot},
	}
	p := newTestPipeline(st, &fakeLiveness{live: true},
		&fakeExtractor{embedding: []float32{1, 0, 0}}, &fakeQuality{quality: 0.9})
	defer p.Close()

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Learned {
		t.Error("expected learned flag for replacement")
	}
	if verdict.EvictedSlot == nil || *verdict.EvictedSlot != evictedSlot {
		t.Errorf("expected evicted slot %d, got %v", evictedSlot, verdict.EvictedSlot)
	}
}

func TestAsynchronousLearningDoesNotBlock(t *testing.T) {
	st := &fakeStore{
		templates:      []store.Template{templateFor("emp-1", 0, []float32{1, 0, 0})},
		proposeOutcome: store.Outcome{Kind: store.OutcomeInserted, Slot: 1},
	}
	// The quality model stays blocked until released; Recognize returning
	// before the release proves the response never waits on it.
	q := &blockingQuality{quality: 0.9, release: make(chan struct{})}
	p := NewPipeline(st, &fakeLiveness{live: true},
		&fakeExtractor{embedding: []float32{1, 0, 0}}, q,
		testRecognitionConfig(), logger.NewNop())

	verdict, err := p.Recognize(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Learned {
		t.Error("expected learned flag when the proposal is queued")
	}
	if verdict.EvictedSlot != nil {
		t.Error("async learning cannot know the eviction outcome")
	}

	// Release the quality model; Close drains the worker, which runs the
	// quality gate and the proposal.
	close(q.release)
	p.Close()
	if q.calls != 1 {
		t.Errorf("expected 1 quality call in the worker, got %d", q.calls)
	}
	if st.proposeCalls != 1 {
		t.Errorf("expected the queued proposal to be applied, got %d calls", st.proposeCalls)
	}
}
