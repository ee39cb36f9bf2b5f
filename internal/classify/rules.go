package classify

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/candorchat/candor-relay/internal/lazy"
)

// RuleFile is the YAML schema for a classifier rule table. All patterns are
// compiled with case-insensitive matching.
type RuleFile struct {
	EditIntent string `yaml:"edit_intent"`
	EditKinds  []struct {
		Kind    string `yaml:"kind"`
		Pattern string `yaml:"pattern"`
	} `yaml:"edit_kinds"`
	Generation []string `yaml:"generation"`
	Canned     []struct {
		Pattern string `yaml:"pattern"`
		Answer  string `yaml:"answer"`
	} `yaml:"canned"`
}

// defaultRules mirrors the shipped rule table. It recognizes a small set of
// English, Spanish and Portuguese phrasings; new intents are YAML edits, not
// code changes.
var defaultRules = RuleFile{
	EditIntent: `\b(remove|delete|erase|change|replace|edit|modify|upscale|enhance|quitar|eliminar|cambiar|remover|alterar)\b`,
	EditKinds: []struct {
		Kind    string `yaml:"kind"`
		Pattern string `yaml:"pattern"`
	}{
		{Kind: string(EditRemoveBackground), Pattern: `\b(remove|delete|erase|quitar|eliminar|remover)\b.{0,20}\b(background|fondo|fundo)\b`},
		{Kind: string(EditUpscale), Pattern: `\b(upscale|enhance|sharpen|mejorar|melhorar)\b`},
	},
	Generation: []string{
		`^/image\s+(.+)$`,
		`\b(?:generate|draw|create|make|genera|dibuja|crea|gera|desenha)\b.{0,30}\b(?:image|picture|photo|drawing|illustration|imagen|foto|dibujo|imagem|desenho)\b(?:\s+(?:of|de)\s+(.+))?`,
	},
	Canned: []struct {
		Pattern string `yaml:"pattern"`
		Answer  string `yaml:"answer"`
	}{
		{
			Pattern: `\bwho\s+(built|made|created|developed)\s+(this|you)\b|\bquien\s+te\s+(creo|hizo)\b|\bquem\s+te\s+(criou|fez)\b`,
			Answer:  "I'm Candor, an open chat client. I was built by the Candor project contributors on top of publicly available language models.",
		},
		{
			Pattern: `^\s*(what\s+can\s+you\s+do|help)\s*\??\s*$`,
			Answer: "I can answer questions, explain code, and work with images: " +
				"type `/image <description>` to generate a picture, or attach one and ask me to remove its background.",
		},
	},
}

var defaults = lazy.New(func() (*Classifier, error) {
	return compile(defaultRules)
})

// Default returns the classifier compiled from the shipped rule table.
func Default() *Classifier {
	c, err := defaults.Get()
	if err != nil {
		// The shipped table is covered by tests; a compile failure here is
		// a programming error.
		panic(err)
	}
	return c
}

// Load reads a rule table from a YAML file and compiles it.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classify: read rules file %s: %w", path, err)
	}
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("classify: parse rules file %s: %w", path, err)
	}
	c, err := compile(rf)
	if err != nil {
		return nil, fmt.Errorf("classify: %s: %w", path, err)
	}
	return c, nil
}

func compile(rf RuleFile) (*Classifier, error) {
	c := &Classifier{}

	editIntent := rf.EditIntent
	if editIntent == "" {
		editIntent = defaultRules.EditIntent
	}
	re, err := regexp.Compile(`(?i)` + editIntent)
	if err != nil {
		return nil, fmt.Errorf("compile edit_intent: %w", err)
	}
	c.editIntent = re

	for _, k := range rf.EditKinds {
		re, err := regexp.Compile(`(?i)` + k.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile edit kind %q: %w", k.Kind, err)
		}
		c.editKinds = append(c.editKinds, editKindRule{kind: EditKind(k.Kind), re: re})
	}
	for _, p := range rf.Generation {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("compile generation pattern: %w", err)
		}
		c.generation = append(c.generation, re)
	}
	for _, r := range rf.Canned {
		re, err := regexp.Compile(`(?i)` + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile canned pattern: %w", err)
		}
		c.canned = append(c.canned, cannedRule{re: re, answer: r.Answer})
	}
	return c, nil
}
