package training

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedFormat is returned for an unknown export format.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format describes an export target.
type Format struct {
	Description string
	Suffix      string
}

// ExportFormats are the supported export targets.
var ExportFormats = map[string]Format{
	"onnx":        {"ONNX format for cross-platform inference", ".onnx"},
	"torchscript": {"TorchScript for PyTorch deployment", ".torchscript"},
	"coreml":      {"CoreML for iOS/macOS deployment", ".mlpackage"},
	"tflite":      {"TFLite for mobile/edge devices", ".tflite"},
	"engine":      {"TensorRT for NVIDIA GPUs", ".engine"},
	"openvino":    {"OpenVINO for Intel hardware", "_openvino_model"},
}

// FormatNames returns the supported format names, sorted.
func FormatNames() []string {
	out := make([]string, 0, len(ExportFormats))
	for name := range ExportFormats {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CheckFormat returns ErrUnsupportedFormat unless name is supported.
func CheckFormat(name string) error {
	if _, ok := ExportFormats[name]; !ok {
		return fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedFormat, name, strings.Join(FormatNames(), ", "))
	}
	return nil
}

// ExportedPath is where an export of modelPath to format lands: next to the
// weights with the format's suffix.
func ExportedPath(modelPath, format string) string {
	base := strings.TrimSuffix(modelPath, filepath.Ext(modelPath))
	return base + ExportFormats[format].Suffix
}
