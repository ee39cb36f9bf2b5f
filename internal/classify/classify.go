// Package classify decides which handling path a user turn takes. The rules
// are an ordered table of (predicate, path) pairs evaluated top-down, so a
// turn matching several conditions resolves deterministically. The table is
// configuration data, loadable from YAML; compiled defaults ship in-process.
package classify

import (
	"regexp"
	"strings"
)

// Path is the handling path for a turn.
type Path string

const (
	PathCompletion    Path = "completion"
	PathGenerateImage Path = "generate_image"
	PathEditImage     Path = "edit_image"
	PathCannedAnswer  Path = "canned_answer"
)

// EditKind sub-classifies an image-edit turn.
type EditKind string

const (
	EditRemoveBackground EditKind = "remove_background"
	EditUpscale          EditKind = "upscale"
	// EditUnknown marks edit intent whose kind is not yet supported. The
	// orchestrator acknowledges it instead of silently ignoring the turn.
	EditUnknown EditKind = "unknown"
)

// Decision is the classifier's verdict for one turn.
type Decision struct {
	Path     Path
	Prompt   string   // generation path: instruction token stripped
	EditKind EditKind // edit path only
	Answer   string   // canned path only
}

// Classifier holds a compiled rule table.
type Classifier struct {
	editKinds  []editKindRule
	editIntent *regexp.Regexp
	generation []*regexp.Regexp
	canned     []cannedRule
}

type editKindRule struct {
	kind EditKind
	re   *regexp.Regexp
}

type cannedRule struct {
	re     *regexp.Regexp
	answer string
}

// Classify maps the latest user turn to exactly one handling path.
//
// Priority order is fixed: edit (asset required) beats generation beats
// canned beats plain completion. A turn that matches nothing falls through
// to completion, even when it vaguely resembles an image command.
func (c *Classifier) Classify(text string, hasAsset bool) Decision {
	trimmed := strings.TrimSpace(text)

	if hasAsset && c.editIntent.MatchString(trimmed) {
		for _, r := range c.editKinds {
			if r.re.MatchString(trimmed) {
				return Decision{Path: PathEditImage, EditKind: r.kind}
			}
		}
		return Decision{Path: PathEditImage, EditKind: EditUnknown}
	}

	if !hasAsset {
		for _, re := range c.generation {
			if m := re.FindStringSubmatch(trimmed); m != nil {
				prompt := trimmed
				if len(m) > 1 && strings.TrimSpace(m[1]) != "" {
					prompt = strings.TrimSpace(m[1])
				}
				return Decision{Path: PathGenerateImage, Prompt: prompt}
			}
		}
	}

	for _, r := range c.canned {
		if r.re.MatchString(trimmed) {
			return Decision{Path: PathCannedAnswer, Answer: r.answer}
		}
	}

	return Decision{Path: PathCompletion}
}
