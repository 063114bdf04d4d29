package playback

import (
	"errors"
	"fmt"

	"github.com/MrWong99/framecast/pkg/anim"
)

var (
	errNoCapabilityProvider = errors.New("no capability provider configured")
	errNoExpressionEngine   = errors.New("no expression evaluator configured")
)

// ConditionEvaluator evaluates [anim.Condition] values against recipients.
// Every call consults the collaborators afresh; nothing is cached, since
// capabilities may change while an animation runs.
type ConditionEvaluator struct {
	caps  anim.CapabilityProvider
	exprs anim.ExpressionEvaluator
}

// NewConditionEvaluator returns an evaluator backed by caps and exprs. Either
// may be nil, in which case conditions of the corresponding kind fail with
// an error.
func NewConditionEvaluator(caps anim.CapabilityProvider, exprs anim.ExpressionEvaluator) *ConditionEvaluator {
	return &ConditionEvaluator{caps: caps, exprs: exprs}
}

// Evaluate reports whether r satisfies c. A nil condition passes everyone.
// On error the result is false.
func (e *ConditionEvaluator) Evaluate(c *anim.Condition, r anim.Recipient) (bool, error) {
	if c == nil {
		return true, nil
	}
	switch c.Kind {
	case anim.ConditionHasCapability, anim.ConditionLacksCapability:
		if e.caps == nil {
			return false, errNoCapabilityProvider
		}
		has := e.caps.Has(r, c.Value)
		if c.Kind == anim.ConditionLacksCapability {
			return !has, nil
		}
		return has, nil
	case anim.ConditionExpression:
		if e.exprs == nil {
			return false, errNoExpressionEngine
		}
		ok, err := e.exprs.Evaluate(c.Value, r)
		if err != nil {
			return false, fmt.Errorf("expression %q: %w", c.Value, err)
		}
		return ok, nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}
