package training

import (
	"fmt"
	"strings"
)

// Markdown renders an evaluation report.
func (r *EvalResult) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Model Evaluation Report\n\n**Generated:** %s\n\n", r.EvaluatedAt)
	b.WriteString("## Model\n\n")
	fmt.Fprintf(&b, "- **Model Path:** `%s`\n", r.ModelPath)
	fmt.Fprintf(&b, "- **Data YAML:** `%s`\n", r.DataManifest)
	fmt.Fprintf(&b, "- **Split:** %s\n", r.Split)
	fmt.Fprintf(&b, "- **Confidence Threshold:** %g\n", r.Confidence)
	fmt.Fprintf(&b, "- **IoU Threshold:** %g\n\n", r.IoU)

	b.WriteString("## Overall Metrics\n\n| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| mAP@50 | %.4f |\n", r.Metrics.MAP50)
	fmt.Fprintf(&b, "| mAP@50-95 | %.4f |\n", r.Metrics.MAP5095)
	fmt.Fprintf(&b, "| Precision | %.4f |\n", r.Metrics.Precision)
	fmt.Fprintf(&b, "| Recall | %.4f |\n", r.Metrics.Recall)
	fmt.Fprintf(&b, "| F1 Score | %.4f |\n\n", r.Metrics.F1)

	b.WriteString("## Deployment Readiness\n\n")
	if r.DeploymentReady {
		b.WriteString("**Model meets deployment thresholds**\n\n")
	} else {
		b.WriteString("**Model does not meet deployment thresholds**\n\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		if len(r.Failures) > 0 {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "**Recommended Confidence Threshold:** %g\n", r.RecommendedThreshold)

	if len(r.PerClass) > 0 {
		b.WriteString("\n## Per-Class Metrics\n\n")
		b.WriteString("| Class | AP@50 | AP@50-95 | Precision | Recall |\n")
		b.WriteString("|-------|-------|----------|-----------|--------|\n")
		for _, c := range r.PerClass {
			fmt.Fprintf(&b, "| %s | %.4f | %.4f | %.4f | %.4f |\n", c.Class, c.AP50, c.AP, c.Precision, c.Recall)
		}
	}
	return b.String()
}

// Judge fills in the deployment verdict of r against t.
func (r *EvalResult) Judge(t Thresholds) {
	r.Failures = t.Failures(r.Metrics)
	r.DeploymentReady = len(r.Failures) == 0
}
