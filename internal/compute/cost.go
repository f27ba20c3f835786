package compute

import (
	"math"
	"sort"
)

// GPURates is the hourly price in USD of each supported GPU.
var GPURates = map[string]float64{
	"T4":        0.59,
	"A10G":      1.10,
	"A100":      2.78,
	"A100-80GB": 3.22,
	"H100":      4.76,
}

// GPUs returns the supported GPU types, cheapest first.
func GPUs() []string {
	out := make([]string, 0, len(GPURates))
	for g := range GPURates {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return GPURates[out[i]] < GPURates[out[j]] })
	return out
}

// Rate returns the hourly rate for gpu, or 1.0 for unknown types.
func Rate(gpu string) float64 {
	if r, ok := GPURates[gpu]; ok {
		return r
	}
	return 1.0
}

// Estimate is a projected training run.
type Estimate struct {
	GPU         string  `json:"gpu_type" yaml:"gpu_type"`
	RatePerHour float64 `json:"rate_per_hour" yaml:"rate_per_hour"`
	Hours       float64 `json:"estimated_hours" yaml:"estimated_hours"`
	CostUSD     float64 `json:"estimated_cost_usd" yaml:"estimated_cost_usd"`
}

// EstimateCost prices hours of gpu time, rounded to cents.
func EstimateCost(gpu string, hours float64) Estimate {
	rate := Rate(gpu)
	return Estimate{GPU: gpu, RatePerHour: rate, Hours: hours, CostUSD: round(rate*hours, 2)}
}

// seconds per epoch per 1000 images on a T4
var epochSeconds = map[string]float64{
	"yolov8n":  30,
	"yolov8s":  60,
	"yolov8m":  120,
	"yolov8l":  180,
	"yolov11n": 25,
	"yolov11s": 55,
	"rt-detr":  90,
}

// speed relative to a T4
var gpuSpeed = map[string]float64{
	"T4":        1.0,
	"A10G":      1.5,
	"A100":      2.5,
	"A100-80GB": 2.5,
	"H100":      4.0,
}

// setupSeconds covers image pull and weight download.
const setupSeconds = 300

// EstimateHours projects the wall time of a training run in hours.
func EstimateHours(architecture string, images, epochs int, gpu string) float64 {
	base, ok := epochSeconds[architecture]
	if !ok {
		base = 60
	}
	speed, ok := gpuSpeed[gpu]
	if !ok {
		speed = 1.0
	}
	size := math.Pow(float64(images)/1000, 0.8)
	total := base*size/speed*float64(epochs) + setupSeconds
	return round(total/3600, 2)
}

// EstimateTraining combines EstimateHours and EstimateCost.
func EstimateTraining(architecture string, images, epochs int, gpu string) Estimate {
	return EstimateCost(gpu, EstimateHours(architecture, images, epochs, gpu))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
