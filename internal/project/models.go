package project

import (
	"strings"
	"time"
)

// Stage represents a pipeline position of a project.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageAnalyzing  Stage = "analyzing"
	StageScript     Stage = "script"
	StageCharacters Stage = "characters"
	StageDesigns    Stage = "designs"
	StageLayouts    Stage = "layouts"
	StagePanels     Stage = "panels"
	StageDialogue   Stage = "dialogue"
	StageFinalizing Stage = "finalizing"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

// sequence is the fixed forward order of a run.
var sequence = []Stage{
	StageQueued,
	StageAnalyzing,
	StageScript,
	StageCharacters,
	StageDesigns,
	StageLayouts,
	StagePanels,
	StageDialogue,
	StageFinalizing,
	StageComplete,
}

var stageIndex = func() map[Stage]int {
	index := make(map[Stage]int, len(sequence)+1)
	for i, stage := range sequence {
		index[stage] = i
	}
	index[StageFailed] = -1
	return index
}()

// Sequence returns the ordered stages of a run, queued through complete.
func Sequence() []Stage {
	out := make([]Stage, len(sequence))
	copy(out, sequence)
	return out
}

// WorkerStages returns the stages executed by registered workers.
func WorkerStages() []Stage {
	return Sequence()[1 : len(sequence)-1]
}

// ParseStage converts a stored value to a Stage.
func ParseStage(value string) (Stage, bool) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stageIndex[stage]; ok {
		return stage, true
	}
	return "", false
}

// NextStage returns the stage following s in the fixed sequence. Terminal and
// unknown stages have no successor.
func NextStage(s Stage) (Stage, bool) {
	idx, ok := stageIndex[s]
	if !ok || idx < 0 || idx >= len(sequence)-1 {
		return "", false
	}
	return sequence[idx+1], true
}

// IsTerminal reports whether no further stage can run.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// IsActive reports whether a run is in flight for a project in this stage.
func (s Stage) IsActive() bool {
	_, known := stageIndex[s]
	return known && !s.IsTerminal()
}

// IsWorkerStage reports whether a registered worker executes this stage.
func (s Stage) IsWorkerStage() bool {
	return s.IsActive() && s != StageQueued
}

// Before reports whether s precedes other in the sequence.
func (s Stage) Before(other Stage) bool {
	a, okA := stageIndex[s]
	b, okB := stageIndex[other]
	return okA && okB && a >= 0 && b >= 0 && a < b
}

// Group names one of the four progress counters.
type Group string

const (
	GroupScript     Group = "script"
	GroupCharacters Group = "characters"
	GroupStoryboard Group = "storyboard"
	GroupPreview    Group = "preview"
)

// Groups lists the progress groups in display order.
func Groups() []Group {
	return []Group{GroupScript, GroupCharacters, GroupStoryboard, GroupPreview}
}

func (g Group) column() (string, bool) {
	switch g {
	case GroupScript:
		return "progress_script", true
	case GroupCharacters:
		return "progress_characters", true
	case GroupStoryboard:
		return "progress_storyboard", true
	case GroupPreview:
		return "progress_preview", true
	default:
		return "", false
	}
}

// Progress holds the four group counters, each in [0,100].
type Progress struct {
	Script     int `json:"script"`
	Characters int `json:"characters"`
	Storyboard int `json:"storyboard"`
	Preview    int `json:"preview"`
}

// Get returns the counter for a group.
func (p Progress) Get(g Group) int {
	switch g {
	case GroupScript:
		return p.Script
	case GroupCharacters:
		return p.Characters
	case GroupStoryboard:
		return p.Storyboard
	case GroupPreview:
		return p.Preview
	default:
		return 0
	}
}

// Clamped returns a copy with every counter forced into [0,100].
func (p Progress) Clamped() Progress {
	return Progress{
		Script:     ClampPercent(p.Script),
		Characters: ClampPercent(p.Characters),
		Storyboard: ClampPercent(p.Storyboard),
		Preview:    ClampPercent(p.Preview),
	}
}

// ClampPercent forces value into [0,100].
func ClampPercent(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}

// Brief is the user's story request.
type Brief struct {
	Synopsis string `json:"synopsis"`
	Genre    string `json:"genre,omitempty"`
	ArtStyle string `json:"artStyle"`
}

// Project is the unit of work; one row tracks the current run.
type Project struct {
	ID            string
	OwnerID       string
	Brief         Brief
	Title         string
	TotalPages    int
	Stage         Stage
	Progress      Progress
	PreviewOnly   bool
	StoryAnalysis *StoryAnalysis
	Script        *Script
	RunID         string
	AccessToken   string
	FailureReason string
	LastHeartbeat *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether a run is in flight.
func (p *Project) Active() bool {
	return p != nil && p.Stage.IsActive()
}

// StoryAnalysis is the structured output of the analyzing stage.
type StoryAnalysis struct {
	Title      string   `json:"title"`
	Logline    string   `json:"logline"`
	Themes     []string `json:"themes,omitempty"`
	Tone       string   `json:"tone,omitempty"`
	Setting    string   `json:"setting,omitempty"`
	Characters []string `json:"characters,omitempty"`
	Beats      []string `json:"beats,omitempty"`
}

// Script is the page-by-page plan produced by the script stage.
type Script struct {
	Title   string       `json:"title"`
	Logline string       `json:"logline,omitempty"`
	Pages   []ScriptPage `json:"pages"`
}

// ScriptPage is one page of the script.
type ScriptPage struct {
	PageNumber int           `json:"pageNumber"`
	Summary    string        `json:"summary"`
	Panels     []ScriptPanel `json:"panels"`
}

// ScriptPanel describes one panel's action and dialogue.
type ScriptPanel struct {
	Description string       `json:"description"`
	Characters  []string     `json:"characters,omitempty"`
	Dialogue    []ScriptLine `json:"dialogue,omitempty"`
}

// ScriptLine is a single spoken or thought line.
type ScriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Type    string `json:"type,omitempty"`
}

// Character is a cast member created by the characters stage.
type Character struct {
	ID              string            `json:"id"`
	ProjectID       string            `json:"projectId"`
	Name            string            `json:"name"`
	Handle          string            `json:"handle"`
	Description     string            `json:"description"`
	ReferenceImages map[string]string `json:"referenceImages,omitempty"`
	Expressions     []string          `json:"expressions,omitempty"`
}

// Reference view names written by the designs stage.
const (
	ViewFront   = "front"
	ViewProfile = "profile"
)

// PrimaryImage returns the front view, falling back to any available view.
func (c Character) PrimaryImage() string {
	if url := c.ReferenceImages[ViewFront]; url != "" {
		return url
	}
	best := ""
	for view, url := range c.ReferenceImages {
		if url == "" {
			continue
		}
		if best == "" || view < best {
			best = view
		}
	}
	return c.ReferenceImages[best]
}

// Page is one comic page laid out by the layouts stage.
type Page struct {
	PageNumber int    `json:"pageNumber"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	LayoutID   string `json:"layoutId"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// Rect is an axis-aligned box. Absolute geometry is in pixels, relative
// geometry in fractions of the page.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bubble types.
const (
	BubbleSpeech  = "speech"
	BubbleThought = "thought"
	BubbleShout   = "shout"
	BubbleWhisper = "whisper"
)

// Tail directions.
const (
	TailBottomLeft  = "bottom-left"
	TailBottomRight = "bottom-right"
	TailBottom      = "bottom"
	TailNone        = "none"
)

// SpeechBubble is a piece of lettering attached to a panel.
type SpeechBubble struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Speaker  string `json:"speaker,omitempty"`
	Position Rect   `json:"position"`
	Tail     string `json:"tail"`
}

// Panel is one frame on a page.
type Panel struct {
	PageNumber       int            `json:"pageNumber"`
	PanelIndex       int            `json:"panelIndex"`
	Geometry         Rect           `json:"geometry"`
	Relative         Rect           `json:"relative"`
	Description      string         `json:"description"`
	Prompt           string         `json:"prompt"`
	CharacterHandles []string       `json:"characterHandles,omitempty"`
	ImageURL         string         `json:"imageUrl,omitempty"`
	Bubbles          []SpeechBubble `json:"bubbles,omitempty"`
}

// StageOutput is the raw JSON payload a stage committed.
type StageOutput struct {
	Stage     Stage
	Payload   string
	UpdatedAt time.Time
}

// Stats aggregates project counts for status output.
type Stats struct {
	Total    int
	Active   int
	Complete int
	Failed   int
	ByStage  map[Stage]int
}
