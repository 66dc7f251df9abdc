// Package progress derives the client-facing progress figures from the four
// stored group counters and the current stage.
package progress

import (
	"math"

	"comicforge/internal/project"
)

// weights of each group in the aggregate; they sum to 1.
var weights = map[project.Group]float64{
	project.GroupScript:     0.25,
	project.GroupCharacters: 0.25,
	project.GroupStoryboard: 0.25,
	project.GroupPreview:    0.25,
}

// Calculate returns the weighted aggregate of the group counters as an
// integer percentage in [0,100]. Inputs are clamped before weighting.
func Calculate(p project.Progress) int {
	clamped := p.Clamped()
	total := 0.0
	for _, group := range project.Groups() {
		total += weights[group] * float64(clamped.Get(group))
	}
	return project.ClampPercent(int(math.Round(total)))
}

var labels = map[project.Stage]string{
	project.StageQueued:     "Queued...",
	project.StageAnalyzing:  "Analyzing story...",
	project.StageScript:     "Generating script...",
	project.StageCharacters: "Creating characters...",
	project.StageDesigns:    "Designing characters...",
	project.StageLayouts:    "Laying out pages...",
	project.StagePanels:     "Drawing panels...",
	project.StageDialogue:   "Placing dialogue...",
	project.StageFinalizing: "Finalizing comic...",
	project.StageComplete:   "Generation complete",
	project.StageFailed:     "Generation failed",
}

// UnknownStepLabel is reported for stage values outside the sequence.
const UnknownStepLabel = "Processing..."

// CurrentStep returns the fixed human label for a stage.
func CurrentStep(stage project.Stage) string {
	if label, ok := labels[stage]; ok {
		return label
	}
	return UnknownStepLabel
}

// Share is the slice of a group counter a stage owns. A commit sets the group
// to To, so only the last stage of a group reaches 100; the first leaves it at 50.
type Share struct {
	Group project.Group
	From  int
	To    int
}

var shares = map[project.Stage]Share{
	project.StageAnalyzing:  {Group: project.GroupScript, From: 0, To: 50},
	project.StageScript:     {Group: project.GroupScript, From: 50, To: 100},
	project.StageCharacters: {Group: project.GroupCharacters, From: 0, To: 50},
	project.StageDesigns:    {Group: project.GroupCharacters, From: 50, To: 100},
	project.StageLayouts:    {Group: project.GroupStoryboard, From: 0, To: 50},
	project.StageDialogue:   {Group: project.GroupStoryboard, From: 50, To: 100},
	project.StagePanels:     {Group: project.GroupPreview, From: 0, To: 50},
	project.StageFinalizing: {Group: project.GroupPreview, From: 50, To: 100},
}

// ShareFor returns the group slice owned by a worker stage.
func ShareFor(stage project.Stage) (Share, bool) {
	share, ok := shares[stage]
	return share, ok
}

// GroupFor returns the progress group a worker stage reports into.
func GroupFor(stage project.Stage) (project.Group, bool) {
	share, ok := shares[stage]
	return share.Group, ok
}

// Completed is the group value a stage commit writes.
func Completed(stage project.Stage) int {
	return shares[stage].To
}

// GroupValue maps a stage-local percentage onto the stage's slice of its
// group counter.
func GroupValue(stage project.Stage, percent int) int {
	share, ok := shares[stage]
	if !ok {
		return 0
	}
	percent = project.ClampPercent(percent)
	span := share.To - share.From
	return share.From + int(math.Round(float64(span)*float64(percent)/100))
}
