package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// GenerationProgress is the polling projection of a project.
type GenerationProgress struct {
	Status       string             `json:"status"`
	Stage        string             `json:"stage"`
	Progress     int                `json:"progress"`
	CurrentStep  string             `json:"currentStep"`
	Groups       GroupProgress      `json:"groups"`
	Script       *ScriptPreview     `json:"script,omitempty"`
	Characters   []CharacterPreview `json:"characters,omitempty"`
	Storyboard   []StoryboardPanel  `json:"storyboard,omitempty"`
	PreviewPages []PreviewPage      `json:"previewPages,omitempty"`
}

// GroupProgress exposes the four group counters.
type GroupProgress struct {
	Script     int `json:"script"`
	Characters int `json:"characters"`
	Storyboard int `json:"storyboard"`
	Preview    int `json:"preview"`
}

// ScriptPreview summarizes the script.
type ScriptPreview struct {
	Title   string        `json:"title"`
	Logline string        `json:"logline,omitempty"`
	Pages   []PageSummary `json:"pages"`
}

// PageSummary is one line of the script preview.
type PageSummary struct {
	PageNumber int    `json:"pageNumber"`
	Summary    string `json:"summary"`
	Panels     int    `json:"panels"`
}

// CharacterPreview is a cast member in the progress projection.
type CharacterPreview struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Handle   string `json:"handle"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// StoryboardPanel is one panel in the progress projection. PanelNumber counts
// panels across the whole comic, starting at 1.
type StoryboardPanel struct {
	PanelNumber int    `json:"panelNumber"`
	PageNumber  int    `json:"pageNumber"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// PreviewPage is a page slot; ImageURL stays empty until finalizing renders it.
type PreviewPage struct {
	PageNumber int    `json:"pageNumber"`
	ImageURL   string `json:"imageUrl"`
	Ready      bool   `json:"ready"`
}

// ProjectPreview is the full detail of a project.
type ProjectPreview struct {
	Project    ProjectSummary `json:"project"`
	Characters []Character    `json:"characters"`
	Pages      []Page         `json:"pages"`
	TotalPages int            `json:"totalPages"`
}

// ProjectSummary describes a project in listings and previews.
type ProjectSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Synopsis    string `json:"synopsis"`
	Genre       string `json:"genre,omitempty"`
	ArtStyle    string `json:"artStyle"`
	TotalPages  int    `json:"totalPages"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"currentStep"`
	PreviewOnly bool   `json:"previewOnly"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// Character is a full cast member.
type Character struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Handle          string            `json:"handle"`
	Description     string            `json:"description,omitempty"`
	ReferenceImages map[string]string `json:"referenceImages,omitempty"`
	Expressions     []string          `json:"expressions,omitempty"`
}

// Page is a laid-out page with its panels.
type Page struct {
	PageNumber int     `json:"pageNumber"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	LayoutID   string  `json:"layoutId"`
	ImageURL   string  `json:"imageUrl,omitempty"`
	Panels     []Panel `json:"panels"`
}

// Rect is a box; absolute geometry is in pixels, relative in page fractions.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Panel is one frame of a page.
type Panel struct {
	PanelIndex       int            `json:"panelIndex"`
	Geometry         Rect           `json:"geometry"`
	Relative         Rect           `json:"relative"`
	Description      string         `json:"description,omitempty"`
	Prompt           string         `json:"prompt,omitempty"`
	CharacterHandles []string       `json:"characterHandles,omitempty"`
	ImageURL         string         `json:"imageUrl,omitempty"`
	Bubbles          []SpeechBubble `json:"bubbles"`
}

// SpeechBubble is a piece of lettering.
type SpeechBubble struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Speaker  string `json:"speaker,omitempty"`
	Position Rect   `json:"position"`
	Tail     string `json:"tail"`
}

// ProjectListResponse wraps the project listing.
type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	StoryDescription string `json:"storyDescription"`
	Genre            string `json:"genre,omitempty"`
	ArtStyle         string `json:"artStyle"`
	PageCount        int    `json:"pageCount"`
	ProjectID        string `json:"projectId,omitempty"`
}

// GenerateResponse is the 201 body of POST /generate. EstimatedTime is in
// seconds.
type GenerateResponse struct {
	Success       bool   `json:"success"`
	ProjectID     string `json:"projectId"`
	RunID         string `json:"runId"`
	AccessToken   string `json:"accessToken"`
	EstimatedTime int    `json:"estimatedTime"`
	Message       string `json:"message"`
}

// AbortRequest is the optional body of POST /projects/{id}/abort.
type AbortRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AbortResponse reports the outcome of an abort.
type AbortResponse struct {
	ProjectID string `json:"projectId"`
	Aborted   bool   `json:"aborted"`
	Status    string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// StageHealth mirrors readiness reporting for stage workers.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	ActiveRuns   int            `json:"activeRuns"`
	StageCounts  map[string]int `json:"stageCounts"`
	Total        int            `json:"total"`
	StageHealth  []StageHealth  `json:"stageHealth"`
}
