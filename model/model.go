package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStatusTransition is returned when a terminal execution step is finished again.
var ErrStatusTransition = errors.New("execution step status already terminal")

type StepType string

const (
	StepTrigger StepType = "trigger"
	StepAction  StepType = "action"
)

// Connection links a user to an app. Auth material lives in the credential
// store under the connection ID, never on this record.
type Connection struct {
	ID         uuid.UUID  `json:"id"`
	UserID     string     `json:"user_id"`
	AppKey     string     `json:"app_key"`
	Verified   bool       `json:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	ScreenName string     `json:"screen_name,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Flow struct {
	ID        uuid.UUID `yaml:"id,omitempty" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	UserID    string    `yaml:"user_id,omitempty" json:"user_id,omitempty"`
	Active    bool      `yaml:"active,omitempty" json:"active"`
	Steps     []Step    `yaml:"steps" json:"steps"`
	CreatedAt time.Time `yaml:"-" json:"created_at"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`
}

type Step struct {
	ID           string         `yaml:"id" json:"id"`
	FlowID       uuid.UUID      `yaml:"-" json:"flow_id"`
	Position     int            `yaml:"position" json:"position"`
	Type         StepType       `yaml:"type" json:"type"`
	AppKey       string         `yaml:"app" json:"app_key"`
	Key          string         `yaml:"key" json:"key"`
	ConnectionID *uuid.UUID     `yaml:"connection,omitempty" json:"connection_id,omitempty"`
	Parameters   map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Trigger returns the first step of the flow, or nil for an empty flow.
func (f *Flow) Trigger() *Step {
	if len(f.Steps) == 0 {
		return nil
	}
	return &f.Steps[0]
}

// Actions returns the steps after the trigger.
func (f *Flow) Actions() []Step {
	if len(f.Steps) < 2 {
		return nil
	}
	return f.Steps[1:]
}

// StepByID finds a step by its ID.
func (f *Flow) StepByID(id string) (*Step, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i], true
		}
	}
	return nil, false
}

type ExecutionStatus string

type StepStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionSuccess    ExecutionStatus = "success"
	ExecutionFailure    ExecutionStatus = "failure"
	ExecutionIncomplete ExecutionStatus = "incomplete"

	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
)

// Terminal reports whether the execution has finished.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailure || s == ExecutionIncomplete
}

type Execution struct {
	ID                uuid.UUID       `json:"id"`
	FlowID            uuid.UUID       `json:"flow_id"`
	Status            ExecutionStatus `json:"status"`
	TestRun           bool            `json:"test_run"`
	TriggerItemID     string          `json:"trigger_item_id,omitempty"`
	TriggerOutput     map[string]any  `json:"trigger_output,omitempty"`
	ReplayOf          *uuid.UUID      `json:"replay_of,omitempty"`
	ReconnectRequired bool            `json:"reconnect_required,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	Steps             []ExecutionStep `json:"steps,omitempty"`
}

// NewExecution returns a pending execution for a fired trigger.
func NewExecution(flowID uuid.UUID, itemID string, output map[string]any) *Execution {
	return &Execution{
		ID:            uuid.New(),
		FlowID:        flowID,
		Status:        ExecutionPending,
		TriggerItemID: itemID,
		TriggerOutput: output,
		CreatedAt:     time.Now().UTC(),
	}
}

type StepError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Raw     any    `json:"raw,omitempty"`
}

type ExecutionStep struct {
	ID          uuid.UUID      `json:"id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Position    int            `json:"position"`
	AppKey      string         `json:"app_key"`
	Key         string         `json:"key"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *StepError     `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// NewExecutionStep returns a pending record for step within execution.
func NewExecutionStep(executionID uuid.UUID, step *Step) *ExecutionStep {
	return &ExecutionStep{
		ID:          uuid.New(),
		ExecutionID: executionID,
		StepID:      step.ID,
		Position:    step.Position,
		AppKey:      step.AppKey,
		Key:         step.Key,
		Status:      StepPending,
		StartedAt:   time.Now().UTC(),
	}
}

// Finish moves a pending step to success or failure. Terminal states never change.
func (s *ExecutionStep) Finish(status StepStatus, output map[string]any, stepErr *StepError) error {
	if s.Status != StepPending {
		return ErrStatusTransition
	}
	if status != StepSuccess && status != StepFailure {
		return ErrStatusTransition
	}
	now := time.Now().UTC()
	s.Status = status
	s.Output = output
	s.Error = stepErr
	s.FinishedAt = &now
	return nil
}

// Watermark is the dedup cursor of a polling flow.
type Watermark struct {
	FlowID    uuid.UUID `json:"flow_id"`
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookRegistration records a callback registered with a provider.
type WebhookRegistration struct {
	FlowID      uuid.UUID `json:"flow_id"`
	AppKey      string    `json:"app_key"`
	TriggerKey  string    `json:"trigger_key"`
	HookID      string    `json:"hook_id,omitempty"`
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	FlowID *uuid.UUID
	Status ExecutionStatus
	Limit  int
}
