package workers

import (
	"context"
	"math"
	"strings"

	"comicforge/internal/logging"
	"comicforge/internal/project"
	"comicforge/internal/stage"
)

// DialogueWorker letters the panels: the text model tightens the script's
// lines, and bubble placement is computed from the panel's reading order.
type DialogueWorker struct {
	base
}

type dialoguePanel struct {
	PageNumber  int
	PanelIndex  int
	Description string
	Lines       []project.ScriptLine
}

type dialoguePromptData struct {
	Characters []project.Character
	Panels     []dialoguePanel
	MaxBubbles int
}

type letteringResponse struct {
	Panels []struct {
		PageNumber int `json:"pageNumber"`
		PanelIndex int `json:"panelIndex"`
		Bubbles    []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
			Type    string `json:"type"`
		} `json:"bubbles"`
	} `json:"panels"`
}

type panelKey struct {
	page  int
	index int
}

type dialogueOutput struct {
	Lettered int `json:"lettered"`
	Bubbles  int `json:"bubbles"`
}

// Run attaches speech bubbles to every panel with dialogue. Panels the model
// leaves out keep the script's lines as written.
func (w *DialogueWorker) Run(ctx context.Context, in stage.Input, report stage.Reporter) (stage.Result, error) {
	script, err := scriptFor(w.base, in)
	if err != nil {
		return stage.Result{}, err
	}
	if len(in.Prior.Panels) == 0 {
		return stage.Result{}, w.missingInput("panel layout")
	}
	cast := newCastIndex(in.Prior.Characters)

	scriptLines := make(map[panelKey][]project.ScriptLine)
	data := dialoguePromptData{Characters: in.Prior.Characters, MaxBubbles: maxBubblesPerPanel}
	for _, page := range script.Pages {
		for idx, panel := range page.Panels {
			if len(panel.Dialogue) == 0 {
				continue
			}
			key := panelKey{page: page.PageNumber, index: idx}
			scriptLines[key] = panel.Dialogue
			data.Panels = append(data.Panels, dialoguePanel{
				PageNumber:  page.PageNumber,
				PanelIndex:  idx,
				Description: panel.Description,
				Lines:       panel.Dialogue,
			})
		}
	}
	report.Report(ctx, 10)

	lettered := make(map[panelKey][]project.ScriptLine, len(scriptLines))
	if len(data.Panels) > 0 {
		var resp letteringResponse
		if err := w.complete(ctx, promptDialogueSystem, promptDialogueUser, data, &resp); err != nil {
			return stage.Result{}, err
		}
		for _, p := range resp.Panels {
			key := panelKey{page: p.PageNumber, index: p.PanelIndex}
			if _, ok := scriptLines[key]; !ok {
				continue
			}
			var lines []project.ScriptLine
			for _, b := range p.Bubbles {
				if text := strings.TrimSpace(b.Text); text != "" {
					lines = append(lines, project.ScriptLine{Speaker: b.Speaker, Text: text, Type: b.Type})
				}
			}
			if len(lines) > 0 {
				lettered[key] = lines
			}
		}
	}
	report.Report(ctx, 70)

	panels := make([]project.Panel, len(in.Prior.Panels))
	copy(panels, in.Prior.Panels)
	var out dialogueOutput
	for i := range panels {
		key := panelKey{page: panels[i].PageNumber, index: panels[i].PanelIndex}
		lines, ok := lettered[key]
		if !ok {
			lines = scriptLines[key]
		}
		if len(lines) == 0 {
			panels[i].Bubbles = []project.SpeechBubble{}
			continue
		}
		panels[i].Bubbles = placeBubbles(lines, cast)
		out.Lettered++
		out.Bubbles += len(panels[i].Bubbles)
	}

	logging.WithContext(ctx, w.logger).Info("dialogue placed",
		logging.String(logging.FieldEventType, "dialogue_complete"),
		logging.Int("panels", out.Lettered),
		logging.Int("bubbles", out.Bubbles),
	)
	report.Report(ctx, 100)
	return stage.Result{Output: out, Panels: panels}, nil
}

// HealthCheck reports text model readiness.
func (w *DialogueWorker) HealthCheck(ctx context.Context) stage.Health {
	return w.textHealth(ctx)
}

// placeBubbles stacks bubbles down the upper part of the panel, alternating
// sides in reading order. Positions are fractions of the panel.
func placeBubbles(lines []project.ScriptLine, cast castIndex) []project.SpeechBubble {
	if len(lines) > maxBubblesPerPanel {
		lines = lines[:maxBubblesPerPanel]
	}
	const (
		width   = 0.42
		top     = 0.04
		step    = 0.03
		maxDrop = 0.7
	)
	bubbles := make([]project.SpeechBubble, 0, len(lines))
	y := top
	for i, line := range lines {
		height := math.Min(0.3, 0.1+0.03*math.Ceil(float64(len([]rune(line.Text)))/40))
		if y+height > maxDrop {
			y = math.Max(top, maxDrop-height)
		}
		x := 0.05
		tail := project.TailBottomLeft
		if i%2 == 1 {
			x = 0.53
			tail = project.TailBottomRight
		}
		bubbleType := normalizeBubbleType(line.Type)
		switch {
		case bubbleType == project.BubbleThought:
			tail = project.TailNone
		case len(lines) == 1:
			x = (1 - width) / 2
			tail = project.TailBottom
		}
		speaker := strings.TrimSpace(line.Speaker)
		if ch, ok := cast.lookup(speaker); ok {
			speaker = ch.Handle
		}
		bubbles = append(bubbles, project.SpeechBubble{
			Text:     line.Text,
			Type:     bubbleType,
			Speaker:  speaker,
			Position: project.Rect{X: roundFraction(x), Y: roundFraction(y), Width: width, Height: roundFraction(height)},
			Tail:     tail,
		})
		y += height + step
	}
	return bubbles
}
