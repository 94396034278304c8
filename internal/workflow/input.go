package workflow

import (
	"github.com/creatorstation/publisher/internal/models"
	v "github.com/go-ozzo/ozzo-validation/v4"
)

type CreateWorkflowBody struct {
	PostID       string `json:"post_id"`
	WorkflowType string `json:"workflow_type"`
}

func (b CreateWorkflowBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.PostID, v.Required, v.Length(1, 36)),
		v.Field(&b.WorkflowType, v.Length(0, 100)),
	)
}

type ApprovalBody struct {
	Action  models.Action  `json:"action"`
	Comment string         `json:"comment"`
	Changes map[string]any `json:"changes"`
}

func (b ApprovalBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Action, v.Required, v.In(
			models.ActionApprove,
			models.ActionReject,
			models.ActionRequestChanges,
			models.ActionComment,
		)),
		v.Field(&b.Comment, v.Length(0, 5000), v.When(b.Action == models.ActionComment, v.Required)),
	)
}

type StepBody struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Required *bool  `json:"required"`
}

func (s StepBody) Validate() error {
	return v.ValidateStruct(&s,
		v.Field(&s.Name, v.Length(0, 100)),
		v.Field(&s.Role, v.Required, v.Length(1, 64)),
	)
}

// ConfigBody defines a reusable approval template. Steps are required
// unless marked otherwise.
type ConfigBody struct {
	Name             string     `json:"name"`
	Steps            []StepBody `json:"steps"`
	AutoPublish      bool       `json:"auto_publish"`
	NotifyOnSubmit   bool       `json:"notify_on_submit"`
	NotifyOnDecision bool       `json:"notify_on_decision"`
	IsDefault        bool       `json:"is_default"`
}

func (b ConfigBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Name, v.Required, v.Length(1, 100)),
		v.Field(&b.Steps, v.Required, v.Length(1, 20), v.By(hasRequiredStep)),
	)
}

func hasRequiredStep(value interface{}) error {
	steps, _ := value.([]StepBody)
	for _, s := range steps {
		if s.Required == nil || *s.Required {
			return nil
		}
	}
	return v.NewError("validation_no_required_step", "at least one step must be required")
}

func (b ConfigBody) definitions() []models.StepDefinition {
	out := make([]models.StepDefinition, 0, len(b.Steps))
	for i, s := range b.Steps {
		name := s.Name
		if name == "" {
			name = defaultStepName(i, s.Role)
		}
		out = append(out, models.StepDefinition{
			Name:     name,
			Role:     s.Role,
			Required: s.Required == nil || *s.Required,
		})
	}
	return out
}
