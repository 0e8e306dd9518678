package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/housing-model/internal/config"
	"github.com/sells-group/housing-model/internal/dataset"
	"github.com/sells-group/housing-model/internal/pipeline"
)

// train runs one training job with the loaded config.
func train(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spec, err := pipeline.LoadSpec(cfg.Features)
	if err != nil {
		zap.L().Error("feature spec invalid", zap.Error(err))
		return err
	}

	src, err := dataset.NewSource(ctx, cfg.Dataset)
	if err != nil {
		zap.L().Error("dataset source unavailable", zap.Error(err))
		return eris.Wrap(err, "open dataset")
	}
	defer src.Close() //nolint:errcheck

	res, err := pipeline.New(cfg, src, spec, out).Run(ctx)
	if err != nil {
		zap.L().Error("training run failed", zap.Error(err))
		return err
	}

	zap.L().Info("training run complete",
		zap.String("run_id", res.Manifest.RunID),
		zap.String("export_dir", res.Manifest.Dir),
		zap.Int("artifacts", len(res.Manifest.Artifacts)),
	)
	return nil
}
