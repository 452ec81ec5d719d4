package schema

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is a stored, named graph of automation steps.
type WorkflowDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Steps       []StepDefinition `json:"steps"`
	Triggers    []Trigger        `json:"triggers,omitempty"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"created_at"`
	LastRunAt   *time.Time       `json:"last_run_at,omitempty"`
	RunCount    int64            `json:"run_count"`
}

// Step returns the step with the given ID, or nil.
func (d *WorkflowDefinition) Step(id string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	ID         string          `json:"id"`
	Kind       StepKind        `json:"kind"`
	Name       string          `json:"name,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
	Successors []string        `json:"successors,omitempty"`
	When       string          `json:"when,omitempty"` // CEL guard over vars
}

// DisplayName returns Name, falling back to ID.
func (s *StepDefinition) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// StepKind enumerates the closed set of step kinds.
type StepKind string

const (
	KindAIGenerate     StepKind = "ai_generate"
	KindSocialPost     StepKind = "social_post"
	KindDocumentCreate StepKind = "document_create"
	KindEmailSend      StepKind = "email_send"
	KindDelay          StepKind = "delay"
	KindCondition      StepKind = "condition"
)

// StepKinds lists every valid kind in a stable order.
var StepKinds = []StepKind{
	KindAIGenerate, KindSocialPost, KindDocumentCreate,
	KindEmailSend, KindDelay, KindCondition,
}

// Valid reports whether k is one of the known kinds.
func (k StepKind) Valid() bool {
	for _, known := range StepKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Trigger is a stored descriptor of how a workflow may be started.
// Triggers are never fired by the engine itself.
type Trigger struct {
	Kind   TriggerKind     `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

// TriggerKind enumerates trigger descriptor kinds.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerSchedule TriggerKind = "schedule"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerEvent    TriggerKind = "event"
)

// ScheduleTriggerConfig is the config of a schedule trigger.
type ScheduleTriggerConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// --- Step configs ---

// AIGenerateConfig configures an ai_generate step.
// Variables maps a prompt placeholder to a context key (or a ".path" query).
type AIGenerateConfig struct {
	Prompt    string            `json:"prompt"`
	Model     string            `json:"model,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// SocialPostConfig configures a social_post step.
type SocialPostConfig struct {
	Content  string `json:"content"`
	MediaRef string `json:"mediaRef,omitempty"`
}

// DocumentCreateConfig configures a document_create step.
type DocumentCreateConfig struct {
	ContainerRef string `json:"containerRef"`
	PageKind     string `json:"pageKind"`
	Title        string `json:"title"`
	Content      string `json:"content,omitempty"`
}

// EmailSendConfig configures an email_send step.
type EmailSendConfig struct {
	To         string         `json:"to"`
	Subject    string         `json:"subject,omitempty"`
	TemplateID string         `json:"templateId"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// DelayConfig configures a delay step.
type DelayConfig struct {
	DurationMillis int64 `json:"durationMillis"`
}

// ConditionOperator is the comparison a condition step performs.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greaterThan"
	OpExists      ConditionOperator = "exists"
)

// Valid reports whether op is a known operator.
func (op ConditionOperator) Valid() bool {
	switch op {
	case OpEquals, OpContains, OpGreaterThan, OpExists:
		return true
	}
	return false
}

// ConditionConfig configures a condition step. Value is ignored for exists.
type ConditionConfig struct {
	Variable string            `json:"variable"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}
