// Package metrics records training-run metrics in a per-run Prometheus
// registry and writes them in the node_exporter textfile format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sells-group/housing-model/internal/evaluate"
	"github.com/sells-group/housing-model/internal/trainer"
)

// Training holds the collectors for one run.
type Training struct {
	reg *prometheus.Registry

	Epochs        prometheus.Counter
	EpochDuration prometheus.Histogram
	Loss          *prometheus.GaugeVec
	Rows          *prometheus.GaugeVec
	Stop          *prometheus.GaugeVec
	BestEpoch     prometheus.Gauge
	Evaluation    *prometheus.GaugeVec
	Artifacts     *prometheus.CounterVec
}

// NewTraining creates and registers the run collectors.
func NewTraining() *Training {
	t := &Training{
		reg: prometheus.NewRegistry(),
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "housing_train_epochs_total",
			Help: "Training epochs completed",
		}),
		EpochDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "housing_train_epoch_duration_seconds",
			Help:    "Wall time per training epoch",
			Buckets: prometheus.DefBuckets,
		}),
		Loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "housing_train_last_epoch",
			Help: "Loss and MAE of the most recent epoch",
		}, []string{"set", "metric"}),
		Rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "housing_dataset_rows",
			Help: "Records per partition",
		}, []string{"partition"}),
		Stop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "housing_train_stop",
			Help: "Set to 1 for the reason training stopped",
		}, []string{"reason"}),
		BestEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "housing_train_best_epoch",
			Help: "Epoch with the lowest validation loss",
		}),
		Evaluation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "housing_eval",
			Help: "Held-out evaluation metrics",
		}, []string{"metric"}),
		Artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "housing_export_artifacts_total",
			Help: "Artifacts written by the exporter",
		}, []string{"artifact"}),
	}
	t.reg.MustRegister(t.Epochs, t.EpochDuration, t.Loss, t.Rows, t.Stop, t.BestEpoch, t.Evaluation, t.Artifacts)
	return t
}

// Registry exposes the run registry.
func (t *Training) Registry() *prometheus.Registry { return t.reg }

// ObserveEpoch is a trainer.EpochObserver.
func (t *Training) ObserveEpoch(s trainer.EpochStats) {
	t.Epochs.Inc()
	t.EpochDuration.Observe(s.Duration.Seconds())
	t.Loss.WithLabelValues("train", "mse").Set(s.Loss)
	t.Loss.WithLabelValues("train", "mae").Set(s.MAE)
	t.Loss.WithLabelValues("validation", "mse").Set(s.ValLoss)
	t.Loss.WithLabelValues("validation", "mae").Set(s.ValMAE)
}

// SetRows records the partition sizes.
func (t *Training) SetRows(train, eval int) {
	t.Rows.WithLabelValues("train").Set(float64(train))
	t.Rows.WithLabelValues("eval").Set(float64(eval))
}

// SetResult records how training ended.
func (t *Training) SetResult(r *trainer.Result) {
	t.Stop.WithLabelValues(r.Stop.String()).Set(1)
	t.BestEpoch.Set(float64(r.BestEpoch))
}

// SetEvaluation records the held-out metrics.
func (t *Training) SetEvaluation(r *evaluate.Report) {
	t.Evaluation.WithLabelValues("mse").Set(r.MSE)
	t.Evaluation.WithLabelValues("mae").Set(r.MAE)
	t.Evaluation.WithLabelValues("rmse").Set(r.RMSE)
	t.Evaluation.WithLabelValues("r2").Set(r.R2)
}

// IncArtifact counts one exported artifact.
func (t *Training) IncArtifact(name string) {
	t.Artifacts.WithLabelValues(name).Inc()
}

// WriteTextfile writes the registry to path atomically.
func (t *Training) WriteTextfile(path string) error {
	return eris.Wrapf(prometheus.WriteToTextfile(path, t.reg), "metrics: write textfile %s", path)
}
