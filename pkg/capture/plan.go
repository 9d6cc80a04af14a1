package capture

import (
	"errors"
	"strings"

	"github.com/voxsprint/voxly/pkg/digits"
	"github.com/voxsprint/voxly/pkg/errorsx"
)

// Plan sequences multiple expectations (card number, expiry, CVV, ...)
// as one ordered collection with a single completion action. Exactly
// one plan may be active per call; advancing past the last step
// deactivates and clears it.
type Plan struct {
	ID                string
	Steps             []Params
	Index             int
	Active            bool
	EndCallOnSuccess  bool
	CompletionMessage string
}

// PlanOptions configure a multi-step capture request.
type PlanOptions struct {
	EndCallOnSuccess  bool
	CompletionMessage string
	// LockedProfile, when set, restricts every step to one profile
	// (template policy). StartPlan rejects plans that disagree.
	LockedProfile string
}

func validatePlan(steps []Params, opts PlanOptions) error {
	if len(steps) == 0 {
		return errorsx.Wrap(errors.New("plan needs at least one step"), errorsx.ReasonPlanEmpty)
	}
	locked := strings.TrimSpace(opts.LockedProfile)
	if locked == "" {
		return nil
	}
	want := digits.Normalize(locked)
	for _, step := range steps {
		if digits.Normalize(step.Profile) != want {
			return errorsx.Wrap(
				errors.New("plan step profile conflicts with locked template policy"),
				errorsx.ReasonPlanLocked,
			)
		}
	}
	return nil
}

// step returns the params for the current index, tagged with the plan's
// identity so the dispatcher can route accepted steps back here.
func (p *Plan) step() Params {
	params := p.Steps[p.Index]
	params.PlanID = p.ID
	params.PlanStep = p.Index
	params.PlanTotal = len(p.Steps)
	return params
}

// advance moves to the next step. It returns false when the plan is
// complete, in which case it deactivates itself.
func (p *Plan) advance() bool {
	p.Index++
	if p.Index >= len(p.Steps) {
		p.Active = false
		return false
	}
	return true
}
