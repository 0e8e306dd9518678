// Package export writes the artifacts a serving process needs to reproduce
// training-time preprocessing and run the model.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/housing-model/internal/features"
	"github.com/sells-group/housing-model/internal/nn"
)

// Artifact names at the root of the export directory.
const (
	SchemaFile     = "scaler.json"
	FeatureMapFile = "feature_map.json"
	MetadataFile   = "model.json"
)

// DefaultModelVersion is stamped into model.json when none is configured.
const DefaultModelVersion = "1.0.0"

// Bundle is what a run hands to the exporter.
type Bundle struct {
	Schema *features.Schema
	Model  *nn.Network
}

// Metadata is the model.json document.
type Metadata struct {
	Features     []string  `json:"features"`
	InputShape   []int     `json:"inputShape"`
	OutputShape  []int     `json:"outputShape"`
	ModelVersion string    `json:"modelVersion"`
	RunID        string    `json:"runId"`
	TrainedAt    time.Time `json:"trainedAt"`
}

// Manifest describes a completed export.
type Manifest struct {
	Dir       string
	RunID     string
	TrainedAt time.Time
	// Artifacts lists every written file relative to Dir, sorted.
	Artifacts []string
}

// Exporter writes a Bundle into Dir.
type Exporter struct {
	Dir          string
	ModelVersion string
	Formats      []ModelFormat

	now   func() time.Time
	newID func() uuid.UUID
}

// New returns an Exporter writing to dir with the given model formats.
func New(dir, modelVersion string, formats ...ModelFormat) *Exporter {
	if modelVersion == "" {
		modelVersion = DefaultModelVersion
	}
	return &Exporter{
		Dir:          dir,
		ModelVersion: modelVersion,
		Formats:      formats,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.New,
	}
}

type pending struct {
	path   string
	encode func() ([]byte, error)
}

// Write validates b, stages every artifact concurrently as a temporary
// sibling of its destination, then renames them all into place. Nothing in
// Dir changes unless every artifact was staged, and a failed rename restores
// the previous files. The first failure is returned as an *ExportError.
func (e *Exporter) Write(ctx context.Context, b Bundle) (*Manifest, error) {
	if err := e.check(b); err != nil {
		return nil, err
	}

	names := b.Schema.FeatureNames()
	runID := e.newID().String()
	trainedAt := e.now()

	jobs := []pending{
		{path: SchemaFile, encode: func() ([]byte, error) {
			var buf bytes.Buffer
			err := features.WriteSchema(&buf, b.Schema)
			return buf.Bytes(), err
		}},
		{path: FeatureMapFile, encode: func() ([]byte, error) {
			doc := make(map[string]map[string]int)
			for name, idx := range b.Schema.FeatureMap() {
				doc[name+"_map"] = idx
			}
			return json.Marshal(doc)
		}},
		{path: MetadataFile, encode: func() ([]byte, error) {
			return json.MarshalIndent(Metadata{
				Features:     names,
				InputShape:   []int{len(names)},
				OutputShape:  []int{1},
				ModelVersion: e.ModelVersion,
				RunID:        runID,
				TrainedAt:    trainedAt,
			}, "", "  ")
		}},
	}

	for _, f := range e.Formats {
		files, err := f.Encode(b.Model)
		if err != nil {
			return nil, &ExportError{Artifact: f.Name(), Reason: "encode model", Err: err}
		}
		for _, file := range files {
			jobs = append(jobs, pending{path: file.Path, encode: func() ([]byte, error) { return file.Data, nil }})
		}
	}

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.path] {
			return nil, &ExportError{Artifact: j.path, Reason: "produced by more than one writer"}
		}
		seen[j.path] = true
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, &ExportError{Artifact: e.Dir, Reason: "create export directory", Err: err}
	}

	staged := make([]string, len(jobs))
	defer func() {
		for _, tmp := range staged {
			if tmp != "" {
				_ = os.Remove(tmp)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &ExportError{Artifact: j.path, Reason: "cancelled", Err: err}
			}
			data, err := j.encode()
			if err != nil {
				return &ExportError{Artifact: j.path, Reason: "encode", Err: err}
			}
			tmp, err := stage(e.target(j.path), data)
			if err != nil {
				return &ExportError{Artifact: j.path, Reason: "write", Err: err}
			}
			staged[i] = tmp
			zap.L().Debug("export: staged artifact", zap.String("artifact", j.path), zap.Int("bytes", len(data)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &ExportError{Artifact: e.Dir, Reason: "cancelled", Err: err}
	}

	if err := e.commit(jobs, staged); err != nil {
		return nil, err
	}

	m := &Manifest{Dir: e.Dir, RunID: runID, TrainedAt: trainedAt}
	for _, j := range jobs {
		m.Artifacts = append(m.Artifacts, j.path)
	}
	slices.Sort(m.Artifacts)

	zap.L().Info("export: artifacts written",
		zap.String("dir", e.Dir),
		zap.String("run_id", runID),
		zap.Strings("artifacts", m.Artifacts),
	)
	return m, nil
}

func (e *Exporter) check(b Bundle) error {
	if e.Dir == "" {
		return &ExportError{Artifact: "export", Reason: "no export directory configured"}
	}
	if len(e.Formats) == 0 {
		return &ExportError{Artifact: "model", Reason: "no model formats configured"}
	}
	if b.Schema == nil {
		return &ExportError{Artifact: SchemaFile, Reason: "feature schema missing"}
	}
	if err := b.Schema.Validate(); err != nil {
		return &ExportError{Artifact: SchemaFile, Reason: "feature schema incomplete", Err: err}
	}
	if b.Model == nil {
		return &ExportError{Artifact: "model", Reason: "model missing"}
	}
	if b.Model.Steps() == 0 {
		return &ExportError{Artifact: "model", Reason: "model has not been trained"}
	}
	if width := len(b.Schema.FeatureNames()); b.Model.Inputs() != width {
		return &ExportError{
			Artifact: "model",
			Reason:   fmt.Sprintf("model expects %d inputs but schema has %d features", b.Model.Inputs(), width),
		}
	}
	return nil
}

func (e *Exporter) target(rel string) string {
	return filepath.Join(e.Dir, filepath.FromSlash(rel))
}

// commit moves every staged file into place as one unit. Existing artifacts
// are set aside first and put back if any rename fails, so the directory
// never mixes files from two runs.
func (e *Exporter) commit(jobs []pending, staged []string) error {
	for _, j := range jobs {
		if info, err := os.Lstat(e.target(j.path)); err == nil && info.IsDir() {
			return &ExportError{Artifact: j.path, Reason: "write", Err: eris.Errorf("export: %s is a directory", j.path)}
		}
	}

	type moved struct {
		dest, backup string
	}
	var done []moved
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			_ = os.Remove(done[i].dest)
			if done[i].backup != "" {
				_ = os.Rename(done[i].backup, done[i].dest)
			}
		}
	}

	for i, j := range jobs {
		dest := e.target(j.path)
		var backup string
		if _, err := os.Lstat(dest); err == nil {
			backup = staged[i] + ".prev"
			if err := os.Rename(dest, backup); err != nil {
				rollback()
				return &ExportError{Artifact: j.path, Reason: "set aside previous artifact", Err: err}
			}
		}
		if err := os.Rename(staged[i], dest); err != nil {
			if backup != "" {
				_ = os.Rename(backup, dest)
			}
			rollback()
			return &ExportError{Artifact: j.path, Reason: "rename into place", Err: err}
		}
		done = append(done, moved{dest: dest, backup: backup})
	}

	for _, m := range done {
		if m.backup != "" {
			_ = os.Remove(m.backup)
		}
	}
	return nil
}

// stage writes data to a temporary file next to path and returns its name.
func stage(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "export: create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", eris.Wrap(err, "export: write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", eris.Wrap(err, "export: close temp file")
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return "", eris.Wrap(err, "export: chmod temp file")
	}
	return tmpPath, nil
}
