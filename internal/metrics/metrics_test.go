package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/housing-model/internal/evaluate"
	"github.com/sells-group/housing-model/internal/trainer"
)

func TestTraining_ObserveEpoch(t *testing.T) {
	m := NewTraining()
	m.ObserveEpoch(trainer.EpochStats{Epoch: 1, Loss: 4, MAE: 2, ValLoss: 5, ValMAE: 2.5, Duration: 150 * time.Millisecond})
	m.ObserveEpoch(trainer.EpochStats{Epoch: 2, Loss: 3, MAE: 1.5, ValLoss: 4, ValMAE: 2, Duration: 120 * time.Millisecond})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Epochs))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Loss.WithLabelValues("train", "mse")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Loss.WithLabelValues("validation", "mae")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EpochDuration))
}

func TestTraining_RunSummary(t *testing.T) {
	m := NewTraining()
	m.SetRows(80, 20)
	m.SetResult(&trainer.Result{Stop: trainer.EarlyStopped, BestEpoch: 12})
	m.SetEvaluation(&evaluate.Report{MSE: 4, MAE: 1.5, RMSE: 2, R2: 0.8})
	m.IncArtifact("scaler.json")

	assert.Equal(t, 80.0, testutil.ToFloat64(m.Rows.WithLabelValues("train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stop.WithLabelValues("early-stopped")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.BestEpoch))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.Evaluation.WithLabelValues("r2")))

	expected := `
# HELP housing_export_artifacts_total Artifacts written by the exporter
# TYPE housing_export_artifacts_total counter
housing_export_artifacts_total{artifact="scaler.json"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.Artifacts, strings.NewReader(expected)))
}

func TestTraining_WriteTextfile(t *testing.T) {
	m := NewTraining()
	m.SetRows(8, 2)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `housing_dataset_rows{partition="eval"} 2`)

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "metrics.prom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics: write textfile")
}
