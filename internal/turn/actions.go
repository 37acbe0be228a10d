package turn

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var (
	ErrUnknownActionType = errors.New("unknown action type")
	ErrInvalidAction     = errors.New("invalid action payload")
)

const (
	ActionSendSMSSequence  = "send_sms_sequence"
	ActionSendMagicLink    = "send_magic_link"
	ActionSendReviewLink   = "send_review_link"
	ActionScheduleCallback = "schedule_callback"
	ActionHaltAutomation   = "halt_automation"
)

// Action is one side effect requested by the generated plan. Type selects
// which payload fields are meaningful.
type Action struct {
	Type         string   `json:"type"`
	Messages     []string `json:"messages,omitempty"`
	URL          string   `json:"url,omitempty"`
	DelaySeconds int      `json:"delay_seconds,omitempty"`
}

// Plan is the structured output expected from the model when a turn asks
// for JSON: a customer-facing reply plus zero or more actions.
type Plan struct {
	Reply   string   `json:"reply"`
	Actions []Action `json:"actions,omitempty"`
}

func (action Action) Validate() error {
	switch action.Type {
	case ActionSendSMSSequence:
		if len(action.Messages) == 0 {
			return fmt.Errorf("%w: %s requires messages", ErrInvalidAction, action.Type)
		}

		for _, message := range action.Messages {
			if message == "" {
				return fmt.Errorf("%w: %s contains empty message", ErrInvalidAction, action.Type)
			}
		}
	case ActionSendMagicLink, ActionSendReviewLink:
		if action.URL == "" {
			return fmt.Errorf("%w: %s requires url", ErrInvalidAction, action.Type)
		}
	case ActionScheduleCallback:
		if action.DelaySeconds <= 0 {
			return fmt.Errorf("%w: %s requires positive delay_seconds", ErrInvalidAction, action.Type)
		}
	case ActionHaltAutomation:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type)
	}

	return nil
}

// ParsePlan decodes the model output. A malformed document or a plan whose
// actions fail validation degrades to a reply-only plan so a bad generation
// never blocks the customer-facing answer.
func ParsePlan(content string) Plan {
	var plan Plan

	err := json.Unmarshal([]byte(content), &plan)
	if err != nil || plan.Reply == "" {
		return Plan{Reply: content}
	}

	for _, action := range plan.Actions {
		err = action.Validate()
		if err != nil {
			return Plan{Reply: plan.Reply}
		}
	}

	return plan
}

// SerializeActions renders the action list in a stable form for keying a
// turn. An empty list serializes to "[]".
func SerializeActions(actions []Action) string {
	if len(actions) == 0 {
		return "[]"
	}

	serialized, err := json.Marshal(actions)
	if err != nil {
		return "[]"
	}

	return string(serialized)
}
