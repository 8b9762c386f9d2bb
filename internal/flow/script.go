package flow

import (
	"strings"
	"time"

	"github.com/DermaBridge/IntakeFlow/internal/models"
)

// Branch values for the photo question. The transition function returns the
// chosen value directly, so these double as step ids.
const (
	stepImageUpload   = "image_upload"
	stepSymptomStory  = "symptom_description"
	defaultWelcome    = "Hi! I'm here to help you book a skin consultation. It only takes a couple of minutes."
	defaultWrapupNote = "Thanks %s! Your details are with the clinic now. We'll be in touch shortly to confirm your consultation."
)

// IntakeMilestones names the session data fields persisted at each milestone
// of the intake script.
func IntakeMilestones() map[string][]string {
	return map[string][]string{
		"create":     {models.FieldName, models.FieldPhone, models.FieldEmail, models.FieldChannel},
		"assessment": {models.FieldConcern, models.FieldNarrative, models.FieldImage, models.FieldAnalysis},
		"triage":     {models.FieldTriage},
		"final":      {models.FieldSurveyOutcome},
	}
}

// ScriptOption customizes the intake script.
type ScriptOption func(*scriptConfig)

type scriptConfig struct {
	welcomeSource func() string
}

// WithWelcomeSource resolves the welcome message when each session starts
// instead of baking it in at construction, so refreshed widget settings
// reach new conversations.
func WithWelcomeSource(fn func() string) ScriptOption {
	return func(c *scriptConfig) { c.welcomeSource = fn }
}

// NewIntakeScript builds the clinic intake conversation. Widget settings
// customize the opening message; everything else is fixed script.
func NewIntakeScript(settings models.WidgetSettings, opts ...ScriptOption) *Definition {
	var cfg scriptConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	welcomeText := func() string {
		if cfg.welcomeSource != nil {
			if w := cfg.welcomeSource(); w != "" {
				return w
			}
		}
		if settings.WelcomeMessage != "" {
			return settings.WelcomeMessage
		}
		return defaultWelcome
	}

	steps := []StepSpec{
		{
			ID:         "welcome",
			Message:    TextFunc(func(SessionData) string { return welcomeText() }),
			Input:      models.InputNone,
			Next:       To("name"),
			EntryDelay: 600 * time.Millisecond,
		},
		{
			ID:      "name",
			Message: Text("To get started, what's your full name?"),
			Input:   models.InputShortText,
			Validate: func(input string) bool {
				return len(strings.TrimSpace(input)) >= 2
			},
			ErrorMessage: "Could you share your full name? It needs at least 2 characters.",
			Next:         To("phone"),
		},
		{
			ID:      "phone",
			Message: TextFunc(func(data SessionData) string {
				return "Thanks, " + firstName(data[models.FieldName]) + ". What's the best phone number to reach you on?"
			}),
			Input: models.InputPhone,
			Next:  To("email"),
		},
		{
			ID:       "email",
			Message:  Text("And your email address? You can skip this one if you prefer."),
			Input:    models.InputEmail,
			Optional: true,
			Next:     To("concern"),
		},
		{
			ID:         "concern",
			Message:    Text("What brings you in today?"),
			Input:      models.InputOptionChoice,
			SideEffect: "persist-create",
			Options: []models.StepOption{
				{Label: "Rash or irritation", Value: "rash"},
				{Label: "Mole or spot check", Value: "mole"},
				{Label: "Acne", Value: "acne"},
				{Label: "Something else", Value: "other"},
			},
			Next: To("photo_choice"),
		},
		{
			ID:      "photo_choice",
			Message: Text("Do you have a photo of the area you could share? It helps our clinicians prepare."),
			Input:   models.InputOptionChoice,
			Options: []models.StepOption{
				{Label: "Yes", Value: stepImageUpload},
				{Label: "No", Value: stepSymptomStory},
			},
			Next: ToFunc(func(input string) string { return input }),
		},
		{
			ID:      stepImageUpload,
			Message: Text("Great, please attach the photo here."),
			Input:   models.InputImage,
			Next:    To("image_analysis"),
		},
		{
			ID:         "image_analysis",
			Message:    Text("Thanks for the photo. Here's a preliminary look from our assistant."),
			Input:      models.InputNone,
			SideEffect: "analyze-image",
			EntryDelay: 400 * time.Millisecond,
			Next:       To("triage"),
		},
		{
			ID:      stepSymptomStory,
			Message: Text("No problem. Could you describe what you're experiencing in your own words?"),
			Input:   models.InputLongText,
			Next:    To("triage"),
		},
		{
			ID:         "triage",
			Message:    Text("How soon do you feel you need to be seen?"),
			Input:      models.InputOptionChoice,
			SideEffect: "persist-patch:assessment",
			Options: []models.StepOption{
				{Label: "As soon as possible", Value: "urgent"},
				{Label: "Within the next week", Value: "soon"},
				{Label: "Whenever there's availability", Value: "routine"},
			},
			Next: To("survey"),
		},
		{
			ID:         "survey",
			Message:    Text("Almost done. Was this assistant helpful so far?"),
			Input:      models.InputOptionChoice,
			SideEffect: "persist-patch:triage",
			Options: []models.StepOption{
				{Label: "Yes, very", Value: "yes"},
				{Label: "Somewhat", Value: "partly"},
				{Label: "Not really", Value: "no"},
			},
			Next: To("wrapup"),
		},
		{
			ID: "wrapup",
			Message: TextFunc(func(data SessionData) string {
				return strings.Replace(defaultWrapupNote, "%s", firstName(data[models.FieldName]), 1)
			}),
			Input:      models.InputNone,
			SideEffect: "persist-patch:final",
			Next:       To("goodbye"),
		},
		{
			ID:         "goodbye",
			Message:    Text("Take care, and see you at the clinic!"),
			SideEffect: "complete",
			Terminal:   true,
		},
	}

	bindings := map[string]string{
		"name":           models.FieldName,
		"phone":          models.FieldPhone,
		"email":          models.FieldEmail,
		"concern":        models.FieldConcern,
		stepImageUpload:  models.FieldImage,
		stepSymptomStory: models.FieldNarrative,
		"triage":         models.FieldTriage,
		"survey":         models.FieldSurveyOutcome,
	}

	return NewDefinition("welcome", steps, bindings)
}

// firstName trims a full name down to its first token for friendly replies.
func firstName(full string) string {
	full = strings.TrimSpace(full)
	if full == "" {
		return "there"
	}
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
