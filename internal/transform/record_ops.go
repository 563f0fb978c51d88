package transform

import (
	"sort"

	"github.com/kestrel-research/rdm-api/internal/formula"
	appErrors "github.com/kestrel-research/rdm-api/pkg/errors"
)

type affineParams struct {
	AddedKeys   map[string]*formula.Node `json:"added_keys"`
	Rules       map[string]*formula.Node `json:"rules"`
	RemovedKeys []string                 `json:"removed_keys"`
}

// affineOperator rewrites each record in a fixed order: add computed keys,
// apply per-key conversion rules, then delete listed keys. Records left
// without any key are dropped.
type affineOperator struct {
	params    affineParams
	addOrder  []string
	ruleOrder []string
}

func newAffineOperator(params map[string]interface{}) (Operator, error) {
	op := &affineOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	// Maps iterate in random order; fix a deterministic application order.
	for key := range op.params.AddedKeys {
		op.addOrder = append(op.addOrder, key)
	}
	sort.Strings(op.addOrder)
	for key := range op.params.Rules {
		op.ruleOrder = append(op.ruleOrder, key)
	}
	sort.Strings(op.ruleOrder)
	return op, nil
}

func (o *affineOperator) Name() string          { return "affine" }
func (o *affineOperator) Input() Shape          { return ShapeFlat }
func (o *affineOperator) Output(in Shape) Shape { return ShapeFlat }

func (o *affineOperator) Apply(in Dataset) (Dataset, error) {
	if in.Shape != ShapeFlat {
		return Dataset{}, shapeMismatch(o, in.Shape)
	}

	out := make([]Record, 0, len(in.Flat))
	for _, record := range in.Flat {
		next := record.Clone()
		for _, key := range o.addOrder {
			value, err := formula.Evaluate(o.params.AddedKeys[key], nil)
			if err != nil {
				return Dataset{}, err
			}
			next[key] = value
		}
		for _, key := range o.ruleOrder {
			current, ok := next[key]
			if !ok {
				continue
			}
			value, err := formula.Evaluate(o.params.Rules[key], current)
			if err != nil {
				return Dataset{}, err
			}
			next[key] = value
		}
		for _, key := range o.params.RemovedKeys {
			delete(next, key)
		}
		if len(next) == 0 {
			continue
		}
		out = append(out, next)
	}
	return NewFlat(out), nil
}

type leaveOneParams struct {
	ScoreKey  string        `json:"score_key"`
	Formula   *formula.Node `json:"formula"`
	IsDescend bool          `json:"is_descend"`
}

// leaveOneOperator keeps one record per group: the one whose score (the
// formula evaluated against score_key, or the raw value when no formula is
// given) is the maximum when is_descend, the minimum otherwise. On ties the
// earliest record in group order wins.
type leaveOneOperator struct {
	params leaveOneParams
}

func newLeaveOneOperator(params map[string]interface{}) (Operator, error) {
	op := &leaveOneOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	if op.params.ScoreKey == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "leaveOne requires score_key")
	}
	return op, nil
}

func (o *leaveOneOperator) Name() string          { return "leaveOne" }
func (o *leaveOneOperator) Input() Shape          { return ShapeGrouped }
func (o *leaveOneOperator) Output(in Shape) Shape { return ShapeFlat }

func (o *leaveOneOperator) Apply(in Dataset) (Dataset, error) {
	if in.Shape != ShapeGrouped {
		return Dataset{}, shapeMismatch(o, in.Shape)
	}

	out := make([]Record, 0, len(in.Groups))
	for _, group := range in.Groups {
		var best Record
		var bestScore float64
		for _, record := range group {
			score, err := o.score(record)
			if err != nil {
				return Dataset{}, err
			}
			if best == nil || (o.params.IsDescend && score > bestScore) || (!o.params.IsDescend && score < bestScore) {
				best = record
				bestScore = score
			}
		}
		if best != nil {
			out = append(out, best)
		}
	}
	return NewFlat(out), nil
}

func (o *leaveOneOperator) score(record Record) (float64, error) {
	value, _ := record.Lookup(o.params.ScoreKey)
	if o.params.Formula != nil {
		evaluated, err := formula.Evaluate(o.params.Formula, value)
		if err != nil {
			return 0, err
		}
		value = evaluated
	}
	return formula.ToNumber(value)
}

type filterParams struct {
	Filters map[string][][]formula.Verifier `json:"filters"`
}

// filterOperator keeps only records where the value at every filtered key
// passes its verifier groups. Shape-preserving; within a grouped dataset the
// sub-records are filtered and emptied groups are dropped.
type filterOperator struct {
	params   filterParams
	keyOrder []string
}

func newFilterOperator(params map[string]interface{}) (Operator, error) {
	op := &filterOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	for key := range op.params.Filters {
		op.keyOrder = append(op.keyOrder, key)
	}
	sort.Strings(op.keyOrder)
	return op, nil
}

func (o *filterOperator) Name() string          { return "filter" }
func (o *filterOperator) Input() Shape          { return ShapeAny }
func (o *filterOperator) Output(in Shape) Shape { return in }

func (o *filterOperator) Apply(in Dataset) (Dataset, error) {
	switch in.Shape {
	case ShapeFlat:
		kept, err := o.filter(in.Flat)
		if err != nil {
			return Dataset{}, err
		}
		return NewFlat(kept), nil
	case ShapeGrouped:
		groups := make([][]Record, 0, len(in.Groups))
		for _, group := range in.Groups {
			kept, err := o.filter(group)
			if err != nil {
				return Dataset{}, err
			}
			if len(kept) > 0 {
				groups = append(groups, kept)
			}
		}
		return NewGrouped(groups), nil
	default:
		return Dataset{}, shapeMismatch(o, in.Shape)
	}
}

func (o *filterOperator) filter(records []Record) ([]Record, error) {
	var kept []Record
	for _, record := range records {
		pass := true
		for _, key := range o.keyOrder {
			value, ok := record.Lookup(key)
			if !ok {
				pass = false
				break
			}
			matched, err := formula.Pass(o.params.Filters[key], value)
			if err != nil {
				return nil, err
			}
			if !matched {
				pass = false
				break
			}
		}
		if pass {
			kept = append(kept, record)
		}
	}
	return kept, nil
}

type flattenParams struct {
	FlattenedKey  string `json:"flattened_key"`
	KeepFlattened bool   `json:"keep_flattened"`
}

// flattenOperator merges the sub-object at flattened_key into the parent
// record. Existing parent keys win on conflict. Unless keep_flattened is
// set, the nested key is removed after merging. Records whose value at the
// key is not an object pass through unchanged.
type flattenOperator struct {
	params flattenParams
}

func newFlattenOperator(params map[string]interface{}) (Operator, error) {
	op := &flattenOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	if op.params.FlattenedKey == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "flatten requires flattened_key")
	}
	return op, nil
}

func (o *flattenOperator) Name() string          { return "flatten" }
func (o *flattenOperator) Input() Shape          { return ShapeAny }
func (o *flattenOperator) Output(in Shape) Shape { return in }

func (o *flattenOperator) Apply(in Dataset) (Dataset, error) {
	switch in.Shape {
	case ShapeFlat:
		return NewFlat(o.flatten(in.Flat)), nil
	case ShapeGrouped:
		groups := make([][]Record, 0, len(in.Groups))
		for _, group := range in.Groups {
			groups = append(groups, o.flatten(group))
		}
		return NewGrouped(groups), nil
	default:
		return Dataset{}, shapeMismatch(o, in.Shape)
	}
}

func (o *flattenOperator) flatten(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, record := range records {
		nested, ok := record[o.params.FlattenedKey].(map[string]interface{})
		if !ok {
			out = append(out, record)
			continue
		}
		next := record.Clone()
		for k, v := range nested {
			if _, present := next[k]; !present {
				next[k] = v
			}
		}
		if !o.params.KeepFlattened {
			delete(next, o.params.FlattenedKey)
		}
		out = append(out, next)
	}
	return out
}
