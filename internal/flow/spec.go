// Package flow implements the declarative conversation engine that drives
// patient intake. A Definition is an immutable graph of steps; a Runtime walks
// that graph for one session, collecting answers into session data and firing
// side effect hooks as steps are entered.
package flow

import (
	"fmt"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// SessionData holds the answers collected so far, keyed by field name.
// Structured values (analysis results, transcripts) are stored JSON-encoded.
type SessionData map[string]string

// Clone returns a copy safe to hand to side effect collaborators.
func (d SessionData) Clone() SessionData {
	out := make(SessionData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Message is what a step says on entry. It is either a literal or a function
// of the session data collected so far; exactly one variant is set.
type Message struct {
	text string
	fn   func(SessionData) string
}

// Text returns a literal message.
func Text(s string) Message { return Message{text: s} }

// TextFunc returns a message derived from session data at entry time.
func TextFunc(fn func(SessionData) string) Message { return Message{fn: fn} }

// Resolve produces the message body for the given session data. An empty
// result means the step stays silent.
func (m Message) Resolve(data SessionData) string {
	if m.fn != nil {
		return m.fn(data)
	}
	return m.text
}

// IsZero reports whether neither variant is set.
func (m Message) IsZero() bool { return m.text == "" && m.fn == nil }

// Next names the step entered after this one completes. It is either a fixed
// step id or a function of the validated input, used for branching. Resolving
// to "" means the flow stays on the current step.
type Next struct {
	target string
	fn     func(input string) string
}

// To returns a fixed transition.
func To(id string) Next { return Next{target: id} }

// ToFunc returns a transition computed from the step's validated input.
func ToFunc(fn func(input string) string) Next { return Next{fn: fn} }

// Resolve returns the id of the step to enter next.
func (n Next) Resolve(input string) string {
	if n.fn != nil {
		return n.fn(input)
	}
	return n.target
}

// Static returns the fixed target when the transition does not branch.
func (n Next) Static() (string, bool) {
	if n.fn != nil {
		return "", false
	}
	return n.target, n.target != ""
}

// IsZero reports whether neither variant is set.
func (n Next) IsZero() bool { return n.target == "" && n.fn == nil }

// StepSpec declares a single node of the conversation graph.
type StepSpec struct {
	// ID uniquely names the step within its Definition.
	ID string

	// Message is spoken by the bot when the step is entered.
	Message Message

	// Input declares what the step collects. InputNone steps auto-advance.
	Input models.InputKind

	// Options lists the choices for InputOptionChoice steps. The option
	// Value is validated and bound; the Label is what the user sees.
	Options []models.StepOption

	// Optional allows an empty answer, skipping validation and binding.
	Optional bool

	// Validate overrides the default validator for the input kind.
	Validate func(input string) bool

	// ErrorMessage is spoken when validation rejects the input. Required
	// whenever Validate is set.
	ErrorMessage string

	// Next selects the following step once input is accepted, or
	// immediately for InputNone steps.
	Next Next

	// Terminal marks the end of the conversation. Terminal steps accept
	// no further input.
	Terminal bool

	// SideEffect is a hook tag fired when the step is entered, before any
	// message is spoken and before input is collected.
	SideEffect string

	// EntryDelay pauses before the step's message, giving channels like
	// the web widget a natural typing rhythm.
	EntryDelay time.Duration
}

// Definition is an immutable conversation graph plus the bindings that map
// each collecting step to the session data field its answer lands in.
type Definition struct {
	entry    string
	steps    map[string]StepSpec
	order    []string
	bindings map[string]string
}

// NewDefinition assembles a Definition from its steps. The entry id names the
// first step entered; bindings maps step id to field name.
func NewDefinition(entry string, steps []StepSpec, bindings map[string]string) *Definition {
	d := &Definition{
		entry:    entry,
		steps:    make(map[string]StepSpec, len(steps)),
		order:    make([]string, 0, len(steps)),
		bindings: make(map[string]string, len(bindings)),
	}
	for _, s := range steps {
		d.steps[s.ID] = s
		d.order = append(d.order, s.ID)
	}
	for step, field := range bindings {
		d.bindings[step] = field
	}
	return d
}

// Entry returns the id of the first step.
func (d *Definition) Entry() string { return d.entry }

// Step looks up a step by id.
func (d *Definition) Step(id string) (StepSpec, bool) {
	s, ok := d.steps[id]
	return s, ok
}

// FieldFor returns the session data field bound to the given step, if any.
func (d *Definition) FieldFor(stepID string) (string, bool) {
	f, ok := d.bindings[stepID]
	return f, ok
}

// Validate checks the graph structurally so broken scripts fail at startup
// rather than mid-conversation. It verifies that the entry step exists, that
// every enumerable transition lands on a known step, that custom validators
// carry an error message, that option steps declare options, and that at
// least one terminal step is reachable from the entry.
func (d *Definition) Validate() error {
	if _, ok := d.steps[d.entry]; !ok {
		return fmt.Errorf("flow definition: entry step %q does not exist", d.entry)
	}
	for step := range d.bindings {
		if _, ok := d.steps[step]; !ok {
			return fmt.Errorf("flow definition: binding references unknown step %q", step)
		}
	}
	for _, id := range d.order {
		s := d.steps[id]
		if s.Validate != nil && s.ErrorMessage == "" {
			return fmt.Errorf("flow definition: step %q has a validator but no error message", id)
		}
		if s.Input == models.InputOptionChoice && len(s.Options) == 0 {
			return fmt.Errorf("flow definition: option step %q declares no options", id)
		}
		if s.Input != models.InputOptionChoice && len(s.Options) > 0 {
			return fmt.Errorf("flow definition: step %q declares options but is not an option step", id)
		}
		if s.Terminal {
			if !s.Next.IsZero() {
				return fmt.Errorf("flow definition: terminal step %q declares a transition", id)
			}
			continue
		}
		for _, target := range d.targetsOf(s) {
			if _, ok := d.steps[target]; !ok {
				return fmt.Errorf("flow definition: step %q transitions to unknown step %q", id, target)
			}
		}
	}
	if !d.terminalReachable() {
		return fmt.Errorf("flow definition: no terminal step is reachable from entry %q", d.entry)
	}
	return nil
}

// targetsOf enumerates the transitions of a step that can be checked offline.
// Branching transitions on option steps are probed with each option value;
// branches on free-form input cannot be enumerated and are checked at runtime.
func (d *Definition) targetsOf(s StepSpec) []string {
	if target, ok := s.Next.Static(); ok {
		return []string{target}
	}
	if s.Next.fn == nil || s.Input != models.InputOptionChoice {
		return nil
	}
	seen := make(map[string]bool)
	var targets []string
	for _, opt := range s.Options {
		t := s.Next.fn(opt.Value)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets
}

func (d *Definition) terminalReachable() bool {
	visited := make(map[string]bool)
	queue := []string{d.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		s, ok := d.steps[id]
		if !ok {
			continue
		}
		if s.Terminal {
			return true
		}
		queue = append(queue, d.targetsOf(s)...)
	}
	return false
}
