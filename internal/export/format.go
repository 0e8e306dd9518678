package export

import (
	"bytes"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/housing-model/internal/nn"
)

// File is one encoded output, Path relative to the export directory.
type File struct {
	Path string
	Data []byte
}

// ModelFormat encodes a trained network into one or more files.
type ModelFormat interface {
	Name() string
	Encode(n *nn.Network) ([]File, error)
}

// JSONFormat writes the plain weights document read back by nn.LoadJSON.
type JSONFormat struct{}

// Name implements ModelFormat.
func (JSONFormat) Name() string { return "json" }

// Encode implements ModelFormat.
func (JSONFormat) Encode(n *nn.Network) ([]File, error) {
	var buf bytes.Buffer
	if err := nn.WriteJSON(&buf, n); err != nil {
		return nil, err
	}
	return []File{{Path: "weights.json", Data: buf.Bytes()}}, nil
}

var formats = map[string]ModelFormat{
	"json": JSONFormat{},
	"tfjs": TFJSFormat{},
}

// FormatNames lists the registered model formats.
func FormatNames() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// LookupFormats resolves format names, rejecting unknown and repeated ones.
func LookupFormats(names []string) ([]ModelFormat, error) {
	if len(names) == 0 {
		return nil, eris.New("export: no model formats configured")
	}
	out := make([]ModelFormat, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		f, ok := formats[name]
		if !ok {
			return nil, eris.Errorf("export: unknown model format %q (have %s)", raw, strings.Join(FormatNames(), ", "))
		}
		if seen[name] {
			return nil, eris.Errorf("export: model format %q listed twice", raw)
		}
		seen[name] = true
		out = append(out, f)
	}
	return out, nil
}
