package dataset

// Statistics accumulates the measurements taken during validation.
type Statistics struct {
	TotalImages           int            `json:"total_images" yaml:"total_images"`
	Formats               map[string]int `json:"formats,omitempty" yaml:"formats,omitempty"`
	CorruptImages         int            `json:"corrupt_images" yaml:"corrupt_images"`
	SizeStats             *SizeStats     `json:"size_stats,omitempty" yaml:"size_stats,omitempty"`
	AnnotationCoverage    float64        `json:"annotation_coverage" yaml:"annotation_coverage"`
	ImagesWithLabels      int            `json:"images_with_labels" yaml:"images_with_labels"`
	ImagesWithoutLabels   int            `json:"images_without_labels" yaml:"images_without_labels"`
	OrphanLabels          int            `json:"orphan_labels" yaml:"orphan_labels"`
	SampledLabelFiles     int            `json:"sampled_label_files" yaml:"sampled_label_files"`
	TotalAnnotations      int            `json:"total_annotations" yaml:"total_annotations"`
	EmptyLabelFiles       int            `json:"empty_label_files" yaml:"empty_label_files"`
	InvalidAnnotations    int            `json:"invalid_annotations" yaml:"invalid_annotations"`
	ClassDistribution     map[int]int    `json:"class_distribution,omitempty" yaml:"class_distribution,omitempty"`
	NumClasses            int            `json:"num_classes" yaml:"num_classes"`
	MinClassCount         int            `json:"min_class_count" yaml:"min_class_count"`
	MaxClassCount         int            `json:"max_class_count" yaml:"max_class_count"`
	ImbalanceRatio        float64        `json:"imbalance_ratio" yaml:"imbalance_ratio"`
	Duplicates            int            `json:"duplicates" yaml:"duplicates"`
	DuplicateCheckSkipped bool           `json:"duplicate_check_skipped,omitempty" yaml:"duplicate_check_skipped,omitempty"`
}

// ValidationResult collects the findings of a validation run. Once an error
// has been added the result stays failed.
type ValidationResult struct {
	Warnings   []string
	Errors     []string
	Statistics Statistics

	failed bool
}

// Passed reports whether no error has been recorded.
func (r *ValidationResult) Passed() bool {
	return !r.failed
}

// AddWarning records a non-fatal finding.
func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddError records a fatal finding and marks the result failed.
func (r *ValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.failed = true
}

// Report is the serializable form of a ValidationResult.
type Report struct {
	Passed       bool       `json:"passed" yaml:"passed"`
	Warnings     []string   `json:"warnings" yaml:"warnings"`
	Errors       []string   `json:"errors" yaml:"errors"`
	WarningCount int        `json:"warning_count" yaml:"warning_count"`
	ErrorCount   int        `json:"error_count" yaml:"error_count"`
	Statistics   Statistics `json:"statistics" yaml:"statistics"`
}

// Report returns the result in serializable form.
func (r *ValidationResult) Report() Report {
	return Report{
		Passed:       r.Passed(),
		Warnings:     append([]string{}, r.Warnings...),
		Errors:       append([]string{}, r.Errors...),
		WarningCount: len(r.Warnings),
		ErrorCount:   len(r.Errors),
		Statistics:   r.Statistics,
	}
}
