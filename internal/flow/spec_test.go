package flow

import (
	"strings"
	"testing"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

func twoStepDefinition() *Definition {
	return NewDefinition("ask", []StepSpec{
		{ID: "ask", Message: Text("question?"), Input: models.InputShortText, Next: To("end")},
		{ID: "end", Message: Text("bye"), Terminal: true},
	}, map[string]string{"ask": "answer"})
}

func TestDefinitionValidateOK(t *testing.T) {
	if err := twoStepDefinition().Validate(); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
}

func TestDefinitionValidateMissingEntry(t *testing.T) {
	def := NewDefinition("nope", []StepSpec{
		{ID: "end", Terminal: true},
	}, nil)
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for missing entry step")
	}
}

func TestDefinitionValidateDanglingNext(t *testing.T) {
	def := NewDefinition("ask", []StepSpec{
		{ID: "ask", Input: models.InputShortText, Next: To("missing")},
		{ID: "end", Terminal: true},
	}, nil)
	err := def.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown step") {
		t.Fatalf("expected dangling transition error, got %v", err)
	}
}

func TestDefinitionValidateValidatorWithoutErrorMessage(t *testing.T) {
	def := NewDefinition("ask", []StepSpec{
		{ID: "ask", Input: models.InputShortText, Validate: func(string) bool { return true }, Next: To("end")},
		{ID: "end", Terminal: true},
	}, nil)
	err := def.Validate()
	if err == nil || !strings.Contains(err.Error(), "error message") {
		t.Fatalf("expected validator error, got %v", err)
	}
}

func TestDefinitionValidateOptionStepWithoutOptions(t *testing.T) {
	def := NewDefinition("pick", []StepSpec{
		{ID: "pick", Input: models.InputOptionChoice, Next: To("end")},
		{ID: "end", Terminal: true},
	}, nil)
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for option step without options")
	}
}

func TestDefinitionValidateProbesOptionBranches(t *testing.T) {
	def := NewDefinition("pick", []StepSpec{
		{
			ID:    "pick",
			Input: models.InputOptionChoice,
			Options: []models.StepOption{
				{Label: "A", Value: "a"},
				{Label: "B", Value: "missing"},
			},
			Next: ToFunc(func(input string) string { return input }),
		},
		{ID: "a", Terminal: true},
	}, nil)
	err := def.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown step") {
		t.Fatalf("expected probed branch error, got %v", err)
	}
}

func TestDefinitionValidateUnreachableTerminal(t *testing.T) {
	def := NewDefinition("loop", []StepSpec{
		{ID: "loop", Input: models.InputShortText, Next: To("loop")},
		{ID: "end", Terminal: true},
	}, nil)
	err := def.Validate()
	if err == nil || !strings.Contains(err.Error(), "terminal") {
		t.Fatalf("expected unreachable terminal error, got %v", err)
	}
}

func TestDefinitionValidateBindingUnknownStep(t *testing.T) {
	def := NewDefinition("end", []StepSpec{
		{ID: "end", Terminal: true},
	}, map[string]string{"ghost": "field"})
	if err := def.Validate(); err == nil {
		t.Fatal("expected error for binding on unknown step")
	}
}

func TestMessageResolve(t *testing.T) {
	data := SessionData{"name": "Ada Lovelace"}
	if got := Text("hello").Resolve(data); got != "hello" {
		t.Errorf("literal message: got %q", got)
	}
	derived := TextFunc(func(d SessionData) string { return "hi " + d["name"] })
	if got := derived.Resolve(data); got != "hi Ada Lovelace" {
		t.Errorf("derived message: got %q", got)
	}
}

func TestNextResolve(t *testing.T) {
	if got := To("x").Resolve("anything"); got != "x" {
		t.Errorf("fixed next: got %q", got)
	}
	branch := ToFunc(func(input string) string { return input + "_step" })
	if got := branch.Resolve("a"); got != "a_step" {
		t.Errorf("branch next: got %q", got)
	}
	if got := (Next{}).Resolve(""); got != "" {
		t.Errorf("zero next should stay, got %q", got)
	}
}
