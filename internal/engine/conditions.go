package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/runhawk/engine/pkg/api"
)

// errBadCondition marks conditions that cannot be evaluated; these are
// configuration failures and are never retried
var errBadCondition = fmt.Errorf("%w: bad condition", errConfig)

// evaluateCondition resolves a conditional step's branch selector
// against the current execution context
func (e *Engine) evaluateCondition(
	ctx context.Context, rc *runContext, cond *api.Condition,
) (bool, error) {
	switch cond.Kind {
	case api.ConditionKindExpression:
		return e.evaluateExpression(ctx, rc, cond)
	case api.ConditionKindStepStatus:
		return e.evaluateStepStatus(rc, cond)
	case api.ConditionKindVariable:
		return e.evaluateVariable(rc, cond)
	}
	return false, fmt.Errorf("%w: %s", errBadCondition, cond.Kind)
}

func (e *Engine) evaluateExpression(
	_ context.Context, rc *runContext, cond *api.Condition,
) (bool, error) {
	result, err := e.lua.EvaluatePredicate(
		cond.Expression, scriptInputs(rc),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errBadCondition, err)
	}
	return result, nil
}

// evaluateStepStatus matches the latest attempt of a previous step. A
// step that has not run yet matches nothing
func (e *Engine) evaluateStepStatus(
	rc *runContext, cond *api.Condition,
) (bool, error) {
	if rc.StepIndex(cond.StepID) < 0 {
		return false, fmt.Errorf(
			"%w: unknown step %s", errBadCondition, cond.StepID,
		)
	}
	lr := rc.LatestResult(cond.StepID)
	if lr == nil {
		return false, nil
	}
	return lr.Status == cond.Status, nil
}

// evaluateVariable compares a variable against a literal. Variable
// accepts a gjson path so nested values can be addressed
func (e *Engine) evaluateVariable(
	rc *runContext, cond *api.Condition,
) (bool, error) {
	doc, err := json.Marshal(rc.varsSnapshot())
	if err != nil {
		return false, fmt.Errorf("%w: %w", errBadCondition, err)
	}
	value := gjson.GetBytes(doc, cond.Variable)

	return compareValues(value, cond.Operator, cond.Value)
}

func compareValues(
	value gjson.Result, operator string, want any,
) (bool, error) {
	switch operator {
	case "exists":
		return value.Exists(), nil
	case "contains":
		return strings.Contains(value.String(), fmt.Sprintf("%v", want)), nil
	case "eq", "":
		return equalValues(value, want), nil
	case "ne":
		return !equalValues(value, want), nil
	case "gt", "gte", "lt", "lte":
		return compareNumeric(value, operator, want)
	}
	return false, fmt.Errorf(
		"%w: unknown operator %s", errBadCondition, operator,
	)
}

func equalValues(value gjson.Result, want any) bool {
	switch w := want.(type) {
	case bool:
		if w {
			return value.Type == gjson.True
		}
		return value.Type == gjson.False
	case float64:
		return value.Type == gjson.Number && value.Float() == w
	case int:
		return value.Type == gjson.Number && value.Float() == float64(w)
	case nil:
		return !value.Exists() || value.Type == gjson.Null
	default:
		return value.String() == fmt.Sprintf("%v", want)
	}
}

func compareNumeric(
	value gjson.Result, operator string, want any,
) (bool, error) {
	if value.Type != gjson.Number {
		return false, fmt.Errorf(
			"%w: %s requires a numeric value", errBadCondition, operator,
		)
	}

	var target float64
	switch w := want.(type) {
	case float64:
		target = w
	case int:
		target = float64(w)
	case int64:
		target = float64(w)
	default:
		return false, fmt.Errorf(
			"%w: %s requires a numeric literal", errBadCondition, operator,
		)
	}

	got := value.Float()
	switch operator {
	case "gt":
		return got > target, nil
	case "gte":
		return got >= target, nil
	case "lt":
		return got < target, nil
	default:
		return got <= target, nil
	}
}

// scriptInputs builds the argument map shared by script steps and
// expression conditions
func scriptInputs(rc *runContext) api.Args {
	return api.Args{
		"params": map[string]any(rc.params),
		"vars":   map[string]any(rc.varsSnapshot()),
		"steps":  map[string]any(rc.outputsSnapshot()),
	}
}
