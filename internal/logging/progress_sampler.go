package logging

import "strings"

// ProgressSampler thins out intra-stage progress logs: it lets a report
// through when the stage changes or the percentage enters a new bucket. It is
// not safe for concurrent use.
type ProgressSampler struct {
	bucketSize int
	lastStage  string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent (10 when bucketSize <= 0).
func NewProgressSampler(bucketSize int) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A nil sampler
// logs everything.
func (s *ProgressSampler) ShouldLog(stage string, percent int) bool {
	if s == nil {
		return true
	}
	changed := false
	if stage = strings.TrimSpace(stage); stage != "" && stage != s.lastStage {
		s.lastStage, s.lastBucket = stage, -1
		changed = true
	}
	if percent < 0 {
		return changed
	}
	if bucket := min(percent, 100) / s.bucketSize; bucket > s.lastBucket {
		s.lastBucket = bucket
		changed = true
	}
	return changed
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.lastStage, s.lastBucket = "", -1
	}
}
