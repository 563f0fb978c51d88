package transform

import (
	"fmt"

	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

// Pipeline is an ordered list of operators; execution folds them over the
// initial input, each operator's output feeding the next.
type Pipeline []Operator

// BuildPipeline constructs every operator in the definition, failing on the
// first unregistered name or bad params.
func BuildPipeline(specs []Spec) (Pipeline, error) {
	pipeline := make(Pipeline, 0, len(specs))
	for _, spec := range specs {
		op, err := Build(spec)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, op)
	}
	return pipeline, nil
}

// Run executes the pipeline. A shape mismatch at any step aborts the whole
// run with the failing operator's name and the expected vs. actual shape;
// no partial result is produced.
func (p Pipeline) Run(in Dataset) (Dataset, error) {
	current := in
	for _, op := range p {
		if op.Input() != ShapeAny && op.Input() != current.Shape {
			return Dataset{}, shapeMismatch(op, current.Shape)
		}
		next, err := op.Apply(current)
		if err != nil {
			return Dataset{}, err
		}
		current = next
	}
	return current, nil
}

// Aggregation maps output names to pipelines. Every pipeline runs
// independently against the same initial input.
type Aggregation map[string]Pipeline

// BuildAggregation constructs each named pipeline.
func BuildAggregation(defs map[string][]Spec) (Aggregation, error) {
	agg := make(Aggregation, len(defs))
	for name, specs := range defs {
		pipeline, err := BuildPipeline(specs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status,
				fmt.Sprintf("aggregation %q: %v", name, err))
		}
		agg[name] = pipeline
	}
	return agg, nil
}

// Run executes every pipeline against the same input and collects the
// outputs under their names.
func (a Aggregation) Run(in Dataset) (map[string]Dataset, error) {
	out := make(map[string]Dataset, len(a))
	for name, pipeline := range a {
		result, err := pipeline.Run(in)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.FromError(err).Code, appErrors.FromError(err).Status,
				fmt.Sprintf("aggregation %q: %v", name, err))
		}
		out[name] = result
	}
	return out, nil
}
