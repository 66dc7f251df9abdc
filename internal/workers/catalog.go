package workers

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Template names in the catalog.
const (
	promptAnalyzingSystem  = "analyzing.system"
	promptAnalyzingUser    = "analyzing.user"
	promptScriptSystem     = "script.system"
	promptScriptUser       = "script.user"
	promptCharactersSystem = "characters.system"
	promptCharactersUser   = "characters.user"
	promptDialogueSystem   = "dialogue.system"
	promptDialogueUser     = "dialogue.user"
	promptDesign           = "design"
	promptPanel            = "panel"
	promptPage             = "page"
)

type textPrompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type catalogFile struct {
	Analyzing  textPrompt `yaml:"analyzing"`
	Script     textPrompt `yaml:"script"`
	Characters textPrompt `yaml:"characters"`
	Dialogue   textPrompt `yaml:"dialogue"`
	Design     string     `yaml:"design"`
	Panel      string     `yaml:"panel"`
	Page       string     `yaml:"page"`
}

// Catalog holds the compiled prompt templates.
type Catalog struct {
	templates map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// DefaultCatalog compiles the embedded prompt catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPrompts)
}

// ParseCatalog decodes a YAML prompt catalog and compiles every template.
// All templates must be present.
func ParseCatalog(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("prompt catalog: payload is empty")
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("prompt catalog: decode: %w", err)
	}
	sources := map[string]string{
		promptAnalyzingSystem:  file.Analyzing.System,
		promptAnalyzingUser:    file.Analyzing.User,
		promptScriptSystem:     file.Script.System,
		promptScriptUser:       file.Script.User,
		promptCharactersSystem: file.Characters.System,
		promptCharactersUser:   file.Characters.User,
		promptDialogueSystem:   file.Dialogue.System,
		promptDialogueUser:     file.Dialogue.User,
		promptDesign:           file.Design,
		promptPanel:            file.Panel,
		promptPage:             file.Page,
	}
	catalog := &Catalog{templates: make(map[string]*template.Template, len(sources))}
	for name, source := range sources {
		if strings.TrimSpace(source) == "" {
			return nil, fmt.Errorf("prompt catalog: %s is missing", name)
		}
		tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(source)
		if err != nil {
			return nil, fmt.Errorf("prompt catalog: parse %s: %w", name, err)
		}
		catalog.templates[name] = tmpl
	}
	return catalog, nil
}

// Render executes the named template against data.
func (c *Catalog) Render(name string, data any) (string, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt catalog: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt catalog: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
