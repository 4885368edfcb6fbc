// Package pipeline runs the stages of a full sitelayout run in order and
// checks the consistency of the store afterwards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/sitelayout/internal/dedup"
	"github.com/FranksOps/sitelayout/internal/metrics"
	"go.uber.org/zap"
)

// Stage names a pipeline step.
type Stage string

const (
	StageImport    Stage = "import"
	StageCapture   Stage = "capture"
	StageGreyscale Stage = "greyscale"
	StageDedup     Stage = "dedup"
	StageCopy      Stage = "copy"
)

// Step is one stage and the work it performs.
type Step struct {
	Stage Stage
	Run   func(ctx context.Context) error
}

// Pipeline orchestrates the stages of a run: import hosts, capture them,
// derive greyscale images, deduplicate layouts and copy the survivors.
type Pipeline struct {
	steps  []Step
	logger *zap.Logger
}

// New creates a Pipeline running steps in the given order.
func New(logger *zap.Logger, steps ...Step) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{steps: steps, logger: logger}
}

// Run executes every step. A step reporting dedup.ErrIncomplete has still
// produced its output, so later steps run and the error is returned at the
// end; any other error stops the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.steps) == 0 {
		return errors.New("pipeline: no steps")
	}

	var incomplete []error
	for _, step := range p.steps {
		if step.Run == nil {
			return fmt.Errorf("pipeline: stage %s has no runner", step.Stage)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		log := p.logger.With(zap.String("stage", string(step.Stage)))
		log.Info("stage started")

		start := time.Now()
		err := step.Run(ctx)
		elapsed := time.Since(start)
		metrics.ObserveStage(string(step.Stage), elapsed, err)

		switch {
		case err == nil:
			log.Info("stage finished", zap.Duration("elapsed", elapsed))
		case errors.Is(err, dedup.ErrIncomplete):
			log.Warn("stage incomplete, continuing", zap.Duration("elapsed", elapsed), zap.Error(err))
			incomplete = append(incomplete, fmt.Errorf("%s: %w", step.Stage, err))
		default:
			log.Error("stage failed", zap.Duration("elapsed", elapsed), zap.Error(err))
			return fmt.Errorf("%s: %w", step.Stage, err)
		}
	}

	return errors.Join(incomplete...)
}
