package engine

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"roast-arena/server/agent"
)

//go:embed modes.yaml
var defaultModesYAML []byte

// ModeSpec is one battle style: its prompts, sampling knobs and placeholder text.
type ModeSpec struct {
	MaxTokens    int               `yaml:"max_tokens"`
	Temperature  *float64          `yaml:"temperature"`
	Placeholder  string            `yaml:"placeholder"`
	DefaultStyle string            `yaml:"default_style"`
	DefaultTopic string            `yaml:"default_topic"`
	Phases       map[string]string `yaml:"phases"`
	System       string            `yaml:"system"`
	User         string            `yaml:"user"`

	system *template.Template
	user   *template.Template
}

type Catalogue struct {
	Modes map[string]*ModeSpec `yaml:"modes"`
}

// promptData is what the mode templates see.
type promptData struct {
	Name       string
	Opponent   string
	Style      string
	Topic      string
	Round      int
	Phase      string
	PhaseNote  string
	Transcript []agent.PriorSubmission
}

// LoadModes parses a YAML catalogue and compiles every template in it.
func LoadModes(b []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse modes: %w", err)
	}
	if len(c.Modes) == 0 {
		return nil, fmt.Errorf("parse modes: no modes defined")
	}
	for name, m := range c.Modes {
		if m == nil || strings.TrimSpace(m.User) == "" {
			return nil, fmt.Errorf("mode %q: user prompt is required", name)
		}
		if m.Placeholder == "" {
			m.Placeholder = placeholder
		}
		var err error
		if m.user, err = template.New(name + ".user").Parse(m.User); err != nil {
			return nil, fmt.Errorf("mode %q: %w", name, err)
		}
		if strings.TrimSpace(m.System) != "" {
			if m.system, err = template.New(name + ".system").Parse(m.System); err != nil {
				return nil, fmt.Errorf("mode %q: %w", name, err)
			}
		}
	}
	return &c, nil
}

// DefaultModes returns the built-in roast and rap catalogue.
func DefaultModes() *Catalogue {
	c, err := LoadModes(defaultModesYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Mode returns the named mode, falling back to roast.
func (c *Catalogue) Mode(name string) *ModeSpec {
	if m, ok := c.Modes[name]; ok {
		return m
	}
	if m, ok := c.Modes[ModeRoast]; ok {
		return m
	}
	for _, m := range c.Modes {
		return m
	}
	return nil
}

func (m *ModeSpec) render(d promptData) (system, user string, err error) {
	if d.Style == "" {
		d.Style = m.DefaultStyle
	}
	if d.Topic == "" {
		d.Topic = m.DefaultTopic
	}
	d.PhaseNote = m.Phases[d.Phase]

	var buf bytes.Buffer
	if m.system != nil {
		if err := m.system.Execute(&buf, d); err != nil {
			return "", "", err
		}
		system = strings.TrimSpace(buf.String())
		buf.Reset()
	}
	if err := m.user.Execute(&buf, d); err != nil {
		return "", "", err
	}
	return system, strings.TrimSpace(buf.String()), nil
}
