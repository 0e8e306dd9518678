// Package pipeline runs a training job end to end: load, split, encode,
// train, evaluate and export.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/housing-model/internal/config"
	"github.com/sells-group/housing-model/internal/dataset"
	"github.com/sells-group/housing-model/internal/evaluate"
	"github.com/sells-group/housing-model/internal/export"
	"github.com/sells-group/housing-model/internal/features"
	"github.com/sells-group/housing-model/internal/metrics"
	"github.com/sells-group/housing-model/internal/model"
	"github.com/sells-group/housing-model/internal/nn"
	"github.com/sells-group/housing-model/internal/resilience"
	"github.com/sells-group/housing-model/internal/trainer"
)

// RNG streams derived from the configured seed, one per consumer.
const (
	streamSplit uint64 = iota + 1
	streamInit
	streamShuffle
	streamSample
)

// PhaseResult records how one phase went.
type PhaseResult struct {
	Name     string
	Duration time.Duration
	Error    string
}

// Result is everything a run produced.
type Result struct {
	Records   int
	TrainRows int
	EvalRows  int
	Spec      model.FeatureSpec
	Dropped   []string
	Schema    *features.Schema
	Training  *trainer.Result
	Report    *evaluate.Report
	Manifest  *export.Manifest
	Phases    []PhaseResult
}

// Pipeline wires a dataset source to the trainer and exporter.
type Pipeline struct {
	cfg     *config.Config
	source  dataset.Source
	spec    model.FeatureSpec
	metrics *metrics.Training
	out     io.Writer
}

// New creates a Pipeline. The evaluation report is printed to out.
func New(cfg *config.Config, src dataset.Source, spec model.FeatureSpec, out io.Writer) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		source:  src,
		spec:    spec,
		metrics: metrics.NewTraining(),
		out:     out,
	}
}

// Metrics exposes the run's collectors.
func (p *Pipeline) Metrics() *metrics.Training { return p.metrics }

// LoadSpec returns the feature spec named by cfg, or the built-in housing
// spec when none is configured.
func LoadSpec(cfg config.FeaturesConfig) (model.FeatureSpec, error) {
	if cfg.SpecPath == "" {
		return model.HousingSpec(), nil
	}
	return model.LoadFeatureSpec(cfg.SpecPath)
}

func (p *Pipeline) rng(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(p.cfg.Train.Seed, stream))
}

// Run executes every phase in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("driver", p.cfg.Dataset.Driver))
	log.Info("pipeline: starting run", zap.Uint64("seed", p.cfg.Train.Seed))

	result := &Result{}
	trackPhase := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		phase := PhaseResult{Name: name, Duration: time.Since(start)}
		if err != nil {
			phase.Error = err.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", phase.Duration.Milliseconds()),
				zap.Error(err),
			)
		} else {
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", phase.Duration.Milliseconds()),
			)
		}
		result.Phases = append(result.Phases, phase)
		return err
	}

	var (
		records     []model.Record
		train, eval []model.Record
		net         *nn.Network
		evalX       [][]float64
		evalY       []float64
	)

	if err := trackPhase("load", func() error {
		policy := resilience.DefaultPolicy(p.cfg.Dataset.ReadAttempts)
		policy.OnRetry = resilience.LogRetry("dataset read")
		// Only transient read failures are retried; schema and format
		// errors from coercion fail the first attempt.
		loaded, err := resilience.Retry(ctx, policy, func(ctx context.Context) (loadedDataset, error) {
			recs, spec, err := dataset.Load(ctx, p.source, p.spec)
			return loadedDataset{records: recs, spec: spec}, err
		})
		if err != nil {
			return err
		}
		records, result.Spec = loaded.records, loaded.spec
		result.Dropped = droppedColumns(p.spec, result.Spec)
		result.Records = len(records)
		log.Info("pipeline: dataset loaded",
			zap.Int("records", len(records)),
			zap.String("target", result.Spec.Target),
			zap.Strings("dropped", result.Dropped),
		)
		return nil
	}); err != nil {
		return result, err
	}

	if err := trackPhase("split", func() error {
		var err error
		train, eval, err = dataset.Split(records, p.cfg.Train.EvalFraction, p.rng(streamSplit))
		if err != nil {
			return err
		}
		result.TrainRows, result.EvalRows = len(train), len(eval)
		p.metrics.SetRows(len(train), len(eval))
		return nil
	}); err != nil {
		return result, err
	}

	var trainX [][]float64
	var trainY []float64
	if err := trackPhase("encode", func() error {
		var err error
		result.Schema, err = features.Fit(train, records, result.Spec)
		if err != nil {
			return err
		}
		if trainX, trainY, err = features.TransformAll(result.Schema, train); err != nil {
			return err
		}
		if evalX, evalY, err = features.TransformAll(result.Schema, eval); err != nil {
			return err
		}
		log.Info("pipeline: features encoded",
			zap.Int("width", result.Schema.Width()),
			zap.Strings("features", result.Schema.FeatureNames()),
		)
		return nil
	}); err != nil {
		return result, err
	}

	if err := trackPhase("build", func() error {
		top := nn.HousingTopology(result.Schema.Width())
		top.Optimizer.LearningRate = p.cfg.Train.LearningRate
		var err error
		if net, err = nn.Build(top, p.rng(streamInit)); err != nil {
			return err
		}
		log.Info("pipeline: model built", zap.Int("params", net.ParamCount()))
		return nil
	}); err != nil {
		return result, err
	}

	if err := trackPhase("train", func() error {
		t, err := trainer.New(trainer.Config{
			Epochs:          p.cfg.Train.Epochs,
			BatchSize:       p.cfg.Train.BatchSize,
			Patience:        p.cfg.Train.Patience,
			ValidationSplit: p.cfg.Train.ValidationSplit,
		}, p.rng(streamShuffle), p.metrics.ObserveEpoch)
		if err != nil {
			return err
		}
		if result.Training, err = t.Run(net, trainX, trainY); err != nil {
			return err
		}
		p.metrics.SetResult(result.Training)
		return nil
	}); err != nil {
		return result, err
	}

	if err := trackPhase("evaluate", func() error {
		var err error
		if result.Report, err = evaluate.Evaluate(net, evalX, evalY, p.rng(streamSample)); err != nil {
			return err
		}
		p.metrics.SetEvaluation(result.Report)
		return p.printReport(result)
	}); err != nil {
		return result, err
	}

	if err := trackPhase("export", func() error {
		formats, err := export.LookupFormats(p.cfg.Export.Formats)
		if err != nil {
			return err
		}
		exp := export.New(p.cfg.Export.Dir, p.cfg.Export.ModelVersion, formats...)
		if result.Manifest, err = exp.Write(ctx, export.Bundle{Schema: result.Schema, Model: net}); err != nil {
			return err
		}
		for _, a := range result.Manifest.Artifacts {
			p.metrics.IncArtifact(a)
		}
		return nil
	}); err != nil {
		return result, err
	}

	if path := p.cfg.Metrics.Textfile; path != "" {
		if err := trackPhase("metrics", func() error {
			return p.metrics.WriteTextfile(path)
		}); err != nil {
			return result, err
		}
	}

	log.Info("pipeline: run complete",
		zap.String("run_id", result.Manifest.RunID),
		zap.Float64("eval_mse", result.Report.MSE),
		zap.Float64("eval_mae", result.Report.MAE),
		zap.Stringer("stop", result.Training.Stop),
	)
	return result, nil
}

func (p *Pipeline) printReport(r *Result) error {
	if p.out == nil {
		return nil
	}
	rep := r.Report
	_, err := fmt.Fprintf(p.out,
		"Training stopped: %s after %d epochs (best epoch %d)\nTest MSE: %.2f\nTest MAE: %s\nTest RMSE: %s\nTest R2: %.4f\n\n",
		r.Training.Stop, len(r.Training.History), r.Training.BestEpoch,
		rep.MSE, evaluate.FormatDollars(rep.MAE), evaluate.FormatDollars(rep.RMSE), rep.R2,
	)
	if err != nil {
		return eris.Wrap(err, "pipeline: print report")
	}
	return rep.WriteSamples(p.out)
}

type loadedDataset struct {
	records []model.Record
	spec    model.FeatureSpec
}

func droppedColumns(declared, resolved model.FeatureSpec) []string {
	var out []string
	for _, c := range append(append(append([]model.Column{}, declared.Numeric...), declared.Categorical...), declared.Binary...) {
		if _, ok := resolved.KindOf(c.Name); !ok {
			out = append(out, c.Name)
		}
	}
	return out
}
