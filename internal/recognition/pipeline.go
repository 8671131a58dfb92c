package recognition

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/store"
)

// LivenessChecker is the external anti-spoofing model boundary.
type LivenessChecker interface {
	IsLive(ctx context.Context, image []byte) (bool, error)
}

// EmbeddingExtractor is the external face embedding model boundary.
type EmbeddingExtractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

// QualityEstimator is the external image quality model boundary, used only
// by the learning gate.
type QualityEstimator interface {
	Quality(ctx context.Context, image []byte) (float64, error)
}

// TemplateStore is the narrow store surface the pipeline needs.
type TemplateStore interface {
	Snapshot(ctx context.Context) ([]store.Template, error)
	RecordMatch(ctx context.Context, employeeID string, slot int, similarity float64) error
	ProposeSecondary(ctx context.Context, employeeID string, embedding []float32, quality, confidence float64, source store.Source) (store.Outcome, error)
}

// learnProposal is a queued learning candidate. The frame travels with it
// so the quality gate can run off the kiosk response path.
type learnProposal struct {
	employeeID string
	image      []byte
	embedding  []float32
	confidence float64
}

// Pipeline orchestrates a recognition attempt: liveness gating, matching,
// tier classification, match statistics and the learning hook.
type Pipeline struct {
	store     TemplateStore
	liveness  LivenessChecker
	extractor EmbeddingExtractor
	quality   QualityEstimator
	cfg       config.RecognitionConfig
	log       *logger.Logger

	syncLearning bool
	learnCh      chan learnProposal
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithSynchronousLearning makes the learning hook run inline instead of on
// the background worker. The verdict then carries the eviction outcome.
// Intended for tests and the CLI.
func WithSynchronousLearning() Option {
	return func(p *Pipeline) { p.syncLearning = true }
}

// NewPipeline creates a recognition pipeline and starts its learning
// worker. Call Close to drain the worker on shutdown.
func NewPipeline(
	ts TemplateStore,
	liveness LivenessChecker,
	extractor EmbeddingExtractor,
	quality QualityEstimator,
	cfg config.RecognitionConfig,
	log *logger.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:     ts,
		liveness:  liveness,
		extractor: extractor,
		quality:   quality,
		cfg:       cfg,
		log:       log,
		learnCh:   make(chan learnProposal, 64),
	}
	for _, opt := range opts {
		opt(p)
	}

	if !p.syncLearning {
		p.wg.Add(1)
		go p.learnWorker()
	}
	return p
}

// Close stops the learning worker after draining queued proposals.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.learnCh)
		p.wg.Wait()
	})
}

// Recognize runs one recognition attempt for a kiosk frame.
//
// Expected outcomes (spoof, empty population, miss) come back as a verdict;
// the returned error is non-nil only for system failures such as a failed
// or timed-out embedding extraction (ErrExtractionFailed).
func (p *Pipeline) Recognize(ctx context.Context, image []byte) (*Verdict, error) {
	// Liveness first. A confirmed spoof stops everything before any
	// template is touched. An unavailable checker fails open: attendance
	// must keep working when the anti-spoofing model is down.
	live, err := p.liveness.IsLive(ctx, image)
	if err != nil {
		p.log.Warn("liveness checker unavailable, assuming live", "error", err)
		live = true
	}
	if !live {
		return &Verdict{Status: StatusSpoofRejected, Tier: TierLow}, nil
	}

	snapshot, err := p.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load template snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		return &Verdict{Status: StatusNoTemplates, Tier: TierLow}, nil
	}

	embedding, err := p.extractor.Extract(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	match, ok := FindBestMatch(embedding, snapshot)
	if !ok {
		return &Verdict{Status: StatusNoMatch, Tier: TierLow}, nil
	}

	tier := classifyTier(match.Similarity, &p.cfg)
	if match.Similarity < p.cfg.RecognitionThreshold {
		// Miss, but keep the nearest employee visible for diagnostics.
		return &Verdict{
			Status:       StatusNoMatch,
			Similarity:   match.Similarity,
			EmployeeHint: match.EmployeeID,
			Tier:         tier,
		}, nil
	}

	slot := match.Slot
	verdict := &Verdict{
		Status:      StatusRecognized,
		Recognized:  true,
		EmployeeID:  match.EmployeeID,
		Similarity:  match.Similarity,
		Tier:        tier,
		MatchedSlot: &slot,
	}

	// Statistics failures must never undo a completed recognition.
	if err := p.store.RecordMatch(ctx, match.EmployeeID, match.Slot, match.Similarity); err != nil {
		p.log.Warn("failed to record match statistics",
			"employee_id", match.EmployeeID, "slot", match.Slot, "error", err)
	}

	p.considerLearning(ctx, image, embedding, match, verdict)
	return verdict, nil
}

// considerLearning checks the confidence gate and, if it passes, submits
// the freshly extracted embedding as a secondary template candidate. The
// quality gate runs inside the evaluation so the asynchronous path never
// calls the quality model before the kiosk gets its response.
func (p *Pipeline) considerLearning(ctx context.Context, image []byte, embedding []float32, match Match, verdict *Verdict) {
	if match.Similarity < p.cfg.MinConfidenceForLearning {
		return
	}

	proposal := learnProposal{
		employeeID: match.EmployeeID,
		image:      image,
		embedding:  embedding,
		confidence: match.Similarity,
	}

	if p.syncLearning {
		outcome, reached := p.evaluateProposal(context.WithoutCancel(ctx), proposal)
		if !reached {
			return
		}
		verdict.Learned = outcome.Kind != store.OutcomeRejected
		if outcome.Kind == store.OutcomeReplaced {
			evicted := outcome.Slot
			verdict.EvictedSlot = &evicted
		}
		return
	}

	// The kiosk response must not wait on the quality model or template
	// mutation; hand the candidate to the worker and report that learning
	// was triggered.
	select {
	case p.learnCh <- proposal:
		verdict.Learned = true
	default:
		p.log.Warn("learning queue full, dropping proposal", "employee_id", match.EmployeeID)
	}
}

// learnWorker evaluates queued learning proposals in order.
func (p *Pipeline) learnWorker() {
	defer p.wg.Done()
	for proposal := range p.learnCh {
		p.evaluateProposal(context.Background(), proposal)
	}
}

// evaluateProposal runs the quality gate and, when it passes, the store
// proposal. The boolean reports whether the candidate reached the store.
func (p *Pipeline) evaluateProposal(ctx context.Context, proposal learnProposal) (store.Outcome, bool) {
	quality, err := p.quality.Quality(ctx, proposal.image)
	if err != nil {
		p.log.Warn("quality estimation failed, skipping learning",
			"employee_id", proposal.employeeID, "error", err)
		return store.Outcome{}, false
	}
	if quality < p.cfg.MinQualityForLearning {
		return store.Outcome{}, false
	}
	return p.applyProposal(ctx, proposal, quality), true
}

// applyProposal runs one ProposeSecondary call and logs its outcome.
func (p *Pipeline) applyProposal(ctx context.Context, proposal learnProposal, quality float64) store.Outcome {
	outcome, err := p.store.ProposeSecondary(
		ctx, proposal.employeeID, proposal.embedding,
		quality, proposal.confidence, store.SourceAttendanceLearned,
	)
	if err != nil {
		p.log.Warn("learning proposal failed",
			"employee_id", proposal.employeeID, "error", err)
		return store.Outcome{Kind: store.OutcomeRejected, Reason: err.Error()}
	}

	switch outcome.Kind {
	case store.OutcomeInserted:
		p.log.Info("learned new secondary template",
			"employee_id", proposal.employeeID, "slot", outcome.Slot, "quality", quality)
	case store.OutcomeReplaced:
		p.log.Info("replaced secondary template",
			"employee_id", proposal.employeeID, "slot", outcome.Slot, "quality", quality)
	case store.OutcomeRejected:
		p.log.Debug("learning proposal rejected",
			"employee_id", proposal.employeeID, "reason", outcome.Reason)
	}
	return outcome
}
