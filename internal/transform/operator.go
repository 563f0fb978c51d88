package transform

import (
	"encoding/json"
	"fmt"

	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

// Operator is one pipeline step. Input declares the accepted shape
// (ShapeAny for shape-preserving operators) and Output the shape produced
// for a given input shape.
type Operator interface {
	Name() string
	Input() Shape
	Output(in Shape) Shape
	Apply(in Dataset) (Dataset, error)
}

// Operator registry. The set is closed: dispatch goes through a static map
// of constructors, no reflection.
var builders = map[string]func(params map[string]interface{}) (Operator, error){
	"group":    newGroupOperator,
	"affine":   newAffineOperator,
	"leaveOne": newLeaveOneOperator,
	"join":     newJoinOperator,
	"concat":   newConcatOperator,
	"deconcat": newDeconcatOperator,
	"degroup":  newDegroupOperator,
	"filter":   newFilterOperator,
	"flatten":  newFlattenOperator,
}

// Spec is one operator invocation inside a pipeline definition.
type Spec struct {
	Operator string                 `json:"operator" validate:"required"`
	Params   map[string]interface{} `json:"params"`
}

// Build constructs the named operator from its raw params.
func Build(spec Spec) (Operator, error) {
	builder, ok := builders[spec.Operator]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unregistered pipeline operator %q", spec.Operator))
	}
	op, err := builder(spec.Params)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// decodeParams maps raw JSON params onto an operator's typed parameter
// struct via a marshal round trip.
func decodeParams(params map[string]interface{}, dest interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid operator params")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid operator params")
	}
	return nil
}

func shapeMismatch(op Operator, actual Shape) error {
	return appErrors.Clone(appErrors.ErrShapeMismatch,
		fmt.Sprintf("operator %q expects %s input, got %s", op.Name(), op.Input(), actual))
}
