// Package training runs model training, export and evaluation through an
// external engine and judges whether a model is ready to deploy.
package training

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/croak/internal/pipeline"
)

// Engine trains, exports and evaluates detection models.
type Engine interface {
	Train(ctx context.Context, req TrainRequest) (*TrainResult, error)
	Export(ctx context.Context, req ExportRequest) (string, error)
	Evaluate(ctx context.Context, req EvalRequest) (*EvalResult, error)
}

// TrainRequest is one training run.
type TrainRequest struct {
	ExperimentID string
	DataManifest string
	Architecture string
	Epochs       int
	BatchSize    int
	ImageSize    int
	Patience     int
	Seed         int64
	OutputDir    string
	Timeout      time.Duration
}

// TrainResult is the outcome of a training run.
type TrainResult struct {
	ExperimentID string
	ModelPath    string
	Checkpoints  []string
	Metrics      Metrics
	Duration     time.Duration
}

// ExportRequest converts trained weights to a deployable format.
type ExportRequest struct {
	ModelPath string
	Format    string
	ImageSize int
	Half      bool
	Timeout   time.Duration
}

// EvalRequest is one evaluation run.
type EvalRequest struct {
	ModelPath    string
	DataManifest string
	Confidence   float64
	IoU          float64
	Split        string
	Timeout      time.Duration
}

// ClassMetrics are the metrics of one class.
type ClassMetrics struct {
	Class     string  `yaml:"class" json:"class"`
	Images    int     `yaml:"images" json:"images"`
	Instances int     `yaml:"instances" json:"instances"`
	Precision float64 `yaml:"precision" json:"precision"`
	Recall    float64 `yaml:"recall" json:"recall"`
	AP50      float64 `yaml:"ap50" json:"ap50"`
	AP        float64 `yaml:"ap" json:"ap"`
}

// EvalResult is the outcome of an evaluation run.
type EvalResult struct {
	ModelPath            string         `yaml:"model_path" json:"model_path"`
	DataManifest         string         `yaml:"data_yaml" json:"data_yaml"`
	Split                string         `yaml:"split" json:"split"`
	Confidence           float64        `yaml:"conf_threshold" json:"conf_threshold"`
	IoU                  float64        `yaml:"iou_threshold" json:"iou_threshold"`
	Metrics              Metrics        `yaml:"metrics" json:"metrics"`
	PerClass             []ClassMetrics `yaml:"per_class" json:"per_class"`
	DeploymentReady      bool           `yaml:"deployment_ready" json:"deployment_ready"`
	Failures             []string       `yaml:"failures,omitempty" json:"failures,omitempty"`
	RecommendedThreshold float64        `yaml:"recommended_threshold" json:"recommended_threshold"`
	EvaluatedAt          string         `yaml:"evaluated_at" json:"evaluated_at"`
}

// Metrics are the headline detection metrics.
type Metrics struct {
	MAP50     float64 `yaml:"mAP50" json:"mAP50"`
	MAP5095   float64 `yaml:"mAP50_95" json:"mAP50_95"`
	Precision float64 `yaml:"precision" json:"precision"`
	Recall    float64 `yaml:"recall" json:"recall"`
	F1        float64 `yaml:"f1" json:"f1"`
}

// Map converts m to the state document's metric map.
func (m Metrics) Map() pipeline.Metrics {
	v := func(f float64) *float64 { return &f }
	return pipeline.Metrics{
		"mAP50":     v(m.MAP50),
		"mAP50_95":  v(m.MAP5095),
		"precision": v(m.Precision),
		"recall":    v(m.Recall),
		"f1":        v(m.F1),
	}
}

// F1 is the harmonic mean of precision and recall.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// NewExperimentID returns a sortable, unique experiment id.
func NewExperimentID(now time.Time) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("exp-%s-%s", now.UTC().Format("20060102-150405"), short)
}
