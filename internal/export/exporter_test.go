package export

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/housing-model/internal/features"
	"github.com/sells-group/housing-model/internal/nn"
)

var fixedID = uuid.MustParse("3f2b8c1e-7d4a-4e59-9b1c-0a6d2e8f4c21")

func testSchema() *features.Schema {
	return &features.Schema{
		Numeric: []features.NumericStat{
			{Name: "square_feet", Mean: 1800, Std: 400},
			{Name: "bedrooms", Mean: 3, Std: 1},
		},
		Categorical: []features.Vocabulary{
			{Name: "ocean_proximity", Values: []string{"INLAND", "NEAR BAY", "NEAR OCEAN"}},
			{Name: "property_type", Values: []string{"condo", "single-family"}},
		},
		Binary: []string{"has_pool"},
	}
}

func trainedNetwork(t *testing.T, inputs int) *nn.Network {
	t.Helper()
	n, err := nn.Build(nn.HousingTopology(inputs), rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	x := make([]float64, inputs)
	x[0] = 1
	_, _, err = n.TrainBatch([][]float64{x}, []float64{1})
	require.NoError(t, err)
	return n
}

func testExporter(dir string, formats ...ModelFormat) *Exporter {
	e := New(dir, "", formats...)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	e.newID = func() uuid.UUID { return fixedID }
	return e
}

func TestWrite_AllArtifacts(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	net := trainedNetwork(t, schema.Width())

	m, err := testExporter(dir, JSONFormat{}, TFJSFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: net})
	require.NoError(t, err)

	assert.Equal(t, fixedID.String(), m.RunID)
	assert.Equal(t, []string{
		"feature_map.json",
		"model.json",
		"scaler.json",
		"tfjs_model/group1-shard1of1.bin",
		"tfjs_model/model.json",
		"weights.json",
	}, m.Artifacts)

	for _, a := range m.Artifacts {
		assert.FileExists(t, filepath.Join(dir, a))
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestWrite_SchemaAndFeatureMap(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	_, err := testExporter(dir, JSONFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: trainedNetwork(t, schema.Width())})
	require.NoError(t, err)

	loaded, err := features.LoadSchema(filepath.Join(dir, SchemaFile))
	require.NoError(t, err)
	assert.Equal(t, schema.FeatureNames(), loaded.FeatureNames())

	data, err := os.ReadFile(filepath.Join(dir, FeatureMapFile))
	require.NoError(t, err)
	var fm map[string]map[string]int
	require.NoError(t, json.Unmarshal(data, &fm))
	assert.Equal(t, map[string]int{"INLAND": 0, "NEAR BAY": 1, "NEAR OCEAN": 2}, fm["ocean_proximity_map"])
	assert.Equal(t, map[string]int{"condo": 0, "single-family": 1}, fm["property_type_map"])
	assert.Len(t, fm, 2)
}

func TestWrite_Metadata(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	_, err := testExporter(dir, JSONFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: trainedNetwork(t, schema.Width())})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)
	var meta Metadata
	require.NoError(t, json.Unmarshal(data, &meta))

	assert.Equal(t, schema.FeatureNames(), meta.Features)
	assert.Equal(t, []int{6}, meta.InputShape)
	assert.Equal(t, []int{1}, meta.OutputShape)
	assert.Equal(t, DefaultModelVersion, meta.ModelVersion)
	assert.Equal(t, fixedID.String(), meta.RunID)
	assert.True(t, meta.TrainedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestWrite_JSONWeightsReload(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	net := trainedNetwork(t, schema.Width())
	_, err := testExporter(dir, JSONFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: net})
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, "weights.json"))
	require.NoError(t, err)
	defer f.Close()
	loaded, err := nn.LoadJSON(f)
	require.NoError(t, err)

	X := [][]float64{{0.5, -1, 1, 0, 1, 0}}
	want, err := net.Predict(X)
	require.NoError(t, err)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWrite_TFJSLayersModel(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	net := trainedNetwork(t, schema.Width())
	_, err := testExporter(dir, TFJSFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: net})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "tfjs_model", "model.json"))
	require.NoError(t, err)
	var doc tfjsModel
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "layers-model", doc.Format)
	assert.Equal(t, "Sequential", doc.ModelTopology.ClassName)
	require.Len(t, doc.ModelTopology.Config.Layers, 6)
	first := doc.ModelTopology.Config.Layers[0]
	assert.Equal(t, "Dense", first.ClassName)
	assert.Equal(t, []any{nil, float64(6)}, first.Config["batch_input_shape"])
	assert.Equal(t, "Dropout", doc.ModelTopology.Config.Layers[1].ClassName)
	assert.Equal(t, 0.3, doc.ModelTopology.Config.Layers[1].Config["rate"])

	require.Len(t, doc.WeightsManifest, 1)
	group := doc.WeightsManifest[0]
	assert.Equal(t, []string{"group1-shard1of1.bin"}, group.Paths)
	require.Len(t, group.Weights, 8)
	assert.Equal(t, tfjsWeightSpec{Name: "dense/kernel", Shape: []int{6, 128}, DType: "float32"}, group.Weights[0])
	assert.Equal(t, tfjsWeightSpec{Name: "dense_3/bias", Shape: []int{1}, DType: "float32"}, group.Weights[7])

	shard, err := os.ReadFile(filepath.Join(dir, "tfjs_model", "group1-shard1of1.bin"))
	require.NoError(t, err)
	assert.Len(t, shard, 4*net.ParamCount())

	kernel := net.Layers()[0].Kernel
	got := math.Float32frombits(binary.LittleEndian.Uint32(shard[:4]))
	assert.Equal(t, float32(kernel[0]), got)
}

func TestWrite_Validation(t *testing.T) {
	schema := testSchema()
	untrained, err := nn.Build(nn.HousingTopology(schema.Width()), rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)

	broken := testSchema()
	broken.Numeric[0].Std = 0

	tests := []struct {
		name     string
		exporter *Exporter
		bundle   Bundle
		artifact string
		reason   string
	}{
		{"no dir", testExporter("", JSONFormat{}), Bundle{Schema: schema, Model: trainedNetwork(t, 6)}, "export", "no export directory"},
		{"no formats", testExporter(t.TempDir()), Bundle{Schema: schema, Model: trainedNetwork(t, 6)}, "model", "no model formats"},
		{"no schema", testExporter(t.TempDir(), JSONFormat{}), Bundle{Model: trainedNetwork(t, 6)}, SchemaFile, "missing"},
		{"incomplete schema", testExporter(t.TempDir(), JSONFormat{}), Bundle{Schema: broken, Model: trainedNetwork(t, 6)}, SchemaFile, "incomplete"},
		{"no model", testExporter(t.TempDir(), JSONFormat{}), Bundle{Schema: schema}, "model", "model missing"},
		{"untrained", testExporter(t.TempDir(), JSONFormat{}), Bundle{Schema: schema, Model: untrained}, "model", "not been trained"},
		{"width mismatch", testExporter(t.TempDir(), JSONFormat{}), Bundle{Schema: schema, Model: trainedNetwork(t, 5)}, "model", "expects 5 inputs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.exporter.Write(context.Background(), tt.bundle)
			assert.Nil(t, m)
			var ee *ExportError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.artifact, ee.Artifact)
			assert.Contains(t, ee.Reason, tt.reason)
		})
	}
}

func TestWrite_NothingWrittenOnValidationFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	_, err := testExporter(dir, JSONFormat{}).Write(context.Background(), Bundle{Schema: testSchema()})
	require.Error(t, err)
	assert.NoDirExists(t, dir)
}

func TestWrite_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	schema := testSchema()
	_, err := testExporter(file, JSONFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: trainedNetwork(t, 6)})
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Error(), "create export directory")
}

func TestWrite_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	schema := testSchema()
	_, err := testExporter(t.TempDir(), JSONFormat{}).Write(ctx, Bundle{Schema: schema, Model: trainedNetwork(t, 6)})
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, context.Canceled)
}

func readArtifacts(t *testing.T, dir string, names ...string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte, len(names))
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(n)))
		require.NoError(t, err)
		out[n] = data
	}
	return out
}

func hiddenFiles(t *testing.T, dir string) []string {
	t.Helper()
	var found []string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			found = append(found, path)
		}
		return nil
	}))
	return found
}

func TestWrite_FailedCommitKeepsPreviousRun(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	_, err := testExporter(dir, JSONFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: trainedNetwork(t, schema.Width())})
	require.NoError(t, err)
	root := []string{SchemaFile, FeatureMapFile, MetadataFile, "weights.json"}
	before := readArtifacts(t, dir, root...)

	// A directory squatting on the shard path makes that one artifact
	// impossible to place.
	shard := filepath.Join(dir, "tfjs_model", "group1-shard1of1.bin")
	require.NoError(t, os.MkdirAll(shard, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shard, "keep"), []byte("x"), 0o644))

	next := testSchema()
	next.Categorical[0].Values = []string{"NEAR OCEAN", "INLAND", "NEAR BAY"}
	next.Numeric[0].Mean = 2500
	e := testExporter(dir, JSONFormat{}, TFJSFormat{})
	e.newID = uuid.New

	for range 20 {
		_, err := e.Write(context.Background(), Bundle{Schema: next, Model: trainedNetwork(t, next.Width())})
		var ee *ExportError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "tfjs_model/group1-shard1of1.bin", ee.Artifact)

		assert.Equal(t, before, readArtifacts(t, dir, root...))
		assert.NoFileExists(t, filepath.Join(dir, "tfjs_model", "model.json"))
		assert.Empty(t, hiddenFiles(t, dir))
	}
}

func TestWrite_StagingFailureKeepsPreviousRun(t *testing.T) {
	dir := t.TempDir()
	schema := testSchema()
	net := trainedNetwork(t, schema.Width())
	_, err := testExporter(dir, JSONFormat{}).Write(context.Background(), Bundle{Schema: schema, Model: net})
	require.NoError(t, err)
	before := readArtifacts(t, dir, SchemaFile, FeatureMapFile, MetadataFile, "weights.json")

	// "blocked" is a file, so nothing can be staged beneath it.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blocked"), []byte("x"), 0o644))
	f := new(mockFormat)
	f.On("Encode", net).Return([]File{{Path: "blocked/model.bin", Data: []byte{1}}}, nil).Once()

	next := testSchema()
	next.Binary = []string{"has_garage"}
	_, err = testExporter(dir, JSONFormat{}, f).Write(context.Background(), Bundle{Schema: next, Model: net})
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "blocked/model.bin", ee.Artifact)

	assert.Equal(t, before, readArtifacts(t, dir, SchemaFile, FeatureMapFile, MetadataFile, "weights.json"))
	assert.Empty(t, hiddenFiles(t, dir))
	f.AssertExpectations(t)
}

type mockFormat struct {
	mock.Mock
}

func (m *mockFormat) Name() string { return m.Called().String(0) }

func (m *mockFormat) Encode(n *nn.Network) ([]File, error) {
	args := m.Called(n)
	files, _ := args.Get(0).([]File)
	return files, args.Error(1)
}

func TestWrite_CustomFormat(t *testing.T) {
	schema := testSchema()
	net := trainedNetwork(t, schema.Width())

	f := new(mockFormat)
	f.On("Encode", net).Return([]File{{Path: "custom/model.bin", Data: []byte{1, 2, 3}}}, nil).Once()

	dir := t.TempDir()
	m, err := testExporter(dir, f).Write(context.Background(), Bundle{Schema: schema, Model: net})
	require.NoError(t, err)
	assert.Contains(t, m.Artifacts, "custom/model.bin")

	data, err := os.ReadFile(filepath.Join(dir, "custom", "model.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	f.AssertExpectations(t)
}

func TestWrite_FormatErrors(t *testing.T) {
	schema := testSchema()
	net := trainedNetwork(t, schema.Width())

	failing := new(mockFormat)
	failing.On("Name").Return("broken")
	failing.On("Encode", net).Return(nil, errors.New("no encoder")).Once()

	_, err := testExporter(t.TempDir(), failing).Write(context.Background(), Bundle{Schema: schema, Model: net})
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "broken", ee.Artifact)
	assert.Contains(t, err.Error(), "no encoder")

	clash := new(mockFormat)
	clash.On("Encode", net).Return([]File{{Path: MetadataFile}}, nil).Once()
	_, err = testExporter(t.TempDir(), clash).Write(context.Background(), Bundle{Schema: schema, Model: net})
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, MetadataFile, ee.Artifact)
}

func TestLookupFormats(t *testing.T) {
	got, err := LookupFormats([]string{"TFJS", " json "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tfjs", got[0].Name())
	assert.Equal(t, "json", got[1].Name())

	_, err = LookupFormats([]string{"onnx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json, tfjs")

	_, err = LookupFormats([]string{"json", "json"})
	assert.Error(t, err)

	_, err = LookupFormats(nil)
	assert.Error(t, err)
}
