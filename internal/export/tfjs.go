package export

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/housing-model/internal/nn"
)

const (
	tfjsDir       = "tfjs_model"
	tfjsShardName = "group1-shard1of1.bin"
)

// TFJSFormat writes a TensorFlow.js layers-model: the topology and weights
// manifest in model.json plus a single little-endian float32 shard.
type TFJSFormat struct{}

// Name implements ModelFormat.
func (TFJSFormat) Name() string { return "tfjs" }

type tfjsModel struct {
	Format          string              `json:"format"`
	GeneratedBy     string              `json:"generatedBy"`
	ConvertedBy     *string             `json:"convertedBy"`
	ModelTopology   tfjsTopology        `json:"modelTopology"`
	WeightsManifest []tfjsManifestGroup `json:"weightsManifest"`
}

type tfjsTopology struct {
	ClassName    string           `json:"class_name"`
	Config       tfjsSequentialCf `json:"config"`
	KerasVersion string           `json:"keras_version"`
	Backend      string           `json:"backend"`
}

type tfjsSequentialCf struct {
	Name   string      `json:"name"`
	Layers []tfjsLayer `json:"layers"`
}

type tfjsLayer struct {
	ClassName string         `json:"class_name"`
	Config    map[string]any `json:"config"`
}

type tfjsManifestGroup struct {
	Paths   []string         `json:"paths"`
	Weights []tfjsWeightSpec `json:"weights"`
}

type tfjsWeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// Encode implements ModelFormat.
func (TFJSFormat) Encode(n *nn.Network) ([]File, error) {
	doc := tfjsModel{
		Format:      "layers-model",
		GeneratedBy: "housing-model",
		ModelTopology: tfjsTopology{
			ClassName:    "Sequential",
			Config:       tfjsSequentialCf{Name: "sequential"},
			KerasVersion: "tfjs-layers 4.22.0",
			Backend:      "tensor_flow.js",
		},
	}
	group := tfjsManifestGroup{Paths: []string{tfjsShardName}}
	var shard bytes.Buffer

	for i, l := range n.Layers() {
		cfg := map[string]any{
			"name":      l.Name,
			"trainable": true,
			"dtype":     "float32",
		}
		if i == 0 {
			cfg["batch_input_shape"] = []any{nil, n.Inputs()}
		}

		switch l.Kind {
		case nn.KindDense:
			cfg["units"] = l.Units
			cfg["activation"] = string(l.Activation)
			cfg["use_bias"] = true
			cfg["kernel_initializer"] = map[string]any{"class_name": "GlorotUniform", "config": map[string]any{"seed": nil}}
			cfg["bias_initializer"] = map[string]any{"class_name": "Zeros", "config": map[string]any{}}
			doc.ModelTopology.Config.Layers = append(doc.ModelTopology.Config.Layers, tfjsLayer{ClassName: "Dense", Config: cfg})

			group.Weights = append(group.Weights,
				tfjsWeightSpec{Name: l.Name + "/kernel", Shape: []int{l.Inputs, l.Units}, DType: "float32"},
				tfjsWeightSpec{Name: l.Name + "/bias", Shape: []int{l.Units}, DType: "float32"},
			)
			writeFloat32s(&shard, l.Kernel)
			writeFloat32s(&shard, l.Bias)

		case nn.KindDropout:
			cfg["rate"] = l.Rate
			doc.ModelTopology.Config.Layers = append(doc.ModelTopology.Config.Layers, tfjsLayer{ClassName: "Dropout", Config: cfg})

		default:
			return nil, eris.Errorf("export: tfjs cannot encode layer kind %q", l.Kind)
		}
	}
	doc.WeightsManifest = []tfjsManifestGroup{group}

	topology, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "export: encode tfjs model")
	}
	return []File{
		{Path: tfjsDir + "/model.json", Data: topology},
		{Path: tfjsDir + "/" + tfjsShardName, Data: shard.Bytes()},
	}, nil
}

func writeFloat32s(buf *bytes.Buffer, vals []float64) {
	var b [4]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
		buf.Write(b[:])
	}
}
