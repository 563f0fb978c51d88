package formula

import (
	"fmt"
	"regexp"

	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

// Condition names the comparison a verifier applies to its evaluated result.
type Condition string

const (
	ConditionEqual        Condition = "eq"
	ConditionNotEqual     Condition = "ne"
	ConditionLess         Condition = "lt"
	ConditionGreater      Condition = "gt"
	ConditionGreaterEqual Condition = "ge"
	ConditionLessEqual    Condition = "le"
	// ConditionRegex matches the string form of the result against the
	// verifier value interpreted as a pattern.
	ConditionRegex Condition = "regex"
	// ConditionStringEqual compares string forms exactly.
	ConditionStringEqual Condition = "streq"
)

// Verifier evaluates its formula against a candidate value and compares the
// result to Value using Condition. A nil formula compares the candidate
// directly.
type Verifier struct {
	Formula   *Node       `json:"formula,omitempty"`
	Condition Condition   `json:"condition"`
	Value     interface{} `json:"value"`
}

// Matches reports whether the candidate value satisfies the verifier.
// Numeric conditions fail (without error) when either side cannot be coerced
// to a number; a bad regex pattern is an error because patterns are supposed
// to be validated when the verifier is written.
func (v Verifier) Matches(value interface{}) (bool, error) {
	result := value
	if v.Formula != nil {
		evaluated, err := Evaluate(v.Formula, value)
		if err != nil {
			return false, err
		}
		result = evaluated
	}

	switch v.Condition {
	case ConditionRegex:
		re, err := regexp.Compile(ToString(v.Value))
		if err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrBadPattern.Code, appErrors.ErrBadPattern.Status,
				fmt.Sprintf("verifier pattern %q does not compile", ToString(v.Value)))
		}
		return re.MatchString(ToString(result)), nil
	case ConditionStringEqual:
		return ToString(result) == ToString(v.Value), nil
	case ConditionEqual, ConditionNotEqual, ConditionLess, ConditionGreater, ConditionGreaterEqual, ConditionLessEqual:
		left, err := toNumber(result)
		if err != nil {
			return false, nil
		}
		right, err := toNumber(v.Value)
		if err != nil {
			return false, nil
		}
		switch v.Condition {
		case ConditionEqual:
			return left == right, nil
		case ConditionNotEqual:
			return left != right, nil
		case ConditionLess:
			return left < right, nil
		case ConditionGreater:
			return left > right, nil
		case ConditionGreaterEqual:
			return left >= right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, appErrors.Clone(appErrors.ErrMalformedFormula, fmt.Sprintf("unknown verifier condition %q", v.Condition))
	}
}

// Pass applies an OR-of-AND verifier structure: the value passes when at
// least one inner list has every verifier match. An empty outer list fails
// (no group can vacuously pass) while an empty inner list passes (a vacuous
// AND). The same shape is used for combined permissions.
func Pass(groups [][]Verifier, value interface{}) (bool, error) {
	for _, group := range groups {
		all := true
		for _, verifier := range group {
			ok, err := verifier.Matches(value)
			if err != nil {
				return false, err
			}
			if !ok {
				all = false
				break
			}
		}
		if all {
			return true, nil
		}
	}
	return false, nil
}
