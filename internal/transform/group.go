package transform

import (
	"strings"

	"github.com/kestrel-research/rdm-api/internal/formula"
)

const groupKeySeparator = "\x1f"

type groupParams struct {
	Keys        []string `json:"keys"`
	SkipUnmatch bool     `json:"skip_unmatch"`
}

// groupOperator partitions flat records into groups keyed by the joined
// values of a key list. Records missing any key become their own singleton
// group unless skip_unmatch drops them.
type groupOperator struct {
	params groupParams
}

func newGroupOperator(params map[string]interface{}) (Operator, error) {
	op := &groupOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *groupOperator) Name() string          { return "group" }
func (o *groupOperator) Input() Shape          { return ShapeFlat }
func (o *groupOperator) Output(in Shape) Shape { return ShapeGrouped }

func (o *groupOperator) Apply(in Dataset) (Dataset, error) {
	if in.Shape != ShapeFlat {
		return Dataset{}, shapeMismatch(o, in.Shape)
	}

	var order []string
	buckets := make(map[string][]Record)
	var unmatched []Record

	for _, record := range in.Flat {
		key, ok := o.keyOf(record)
		if !ok {
			if !o.params.SkipUnmatch {
				unmatched = append(unmatched, record)
			}
			continue
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], record)
	}

	groups := make([][]Record, 0, len(order)+len(unmatched))
	for _, key := range order {
		groups = append(groups, buckets[key])
	}
	for _, record := range unmatched {
		groups = append(groups, []Record{record})
	}
	return NewGrouped(groups), nil
}

func (o *groupOperator) keyOf(record Record) (string, bool) {
	parts := make([]string, 0, len(o.params.Keys))
	for _, key := range o.params.Keys {
		value, ok := record.Lookup(key)
		if !ok {
			return "", false
		}
		parts = append(parts, formula.ToString(value))
	}
	return strings.Join(parts, groupKeySeparator), true
}

type degroupParams struct {
	TargetKeyGroups [][]string `json:"target_key_groups"`
}

// degroupOperator splits each flat record into one sibling record per target
// key group. Keys not listed in any target group are shared and copied into
// every sibling.
type degroupOperator struct {
	params degroupParams
	target map[string]struct{}
}

func newDegroupOperator(params map[string]interface{}) (Operator, error) {
	op := &degroupOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	op.target = make(map[string]struct{})
	for _, group := range op.params.TargetKeyGroups {
		for _, key := range group {
			op.target[key] = struct{}{}
		}
	}
	return op, nil
}

func (o *degroupOperator) Name() string          { return "degroup" }
func (o *degroupOperator) Input() Shape          { return ShapeFlat }
func (o *degroupOperator) Output(in Shape) Shape { return ShapeGrouped }

func (o *degroupOperator) Apply(in Dataset) (Dataset, error) {
	if in.Shape != ShapeFlat {
		return Dataset{}, shapeMismatch(o, in.Shape)
	}

	groups := make([][]Record, 0, len(in.Flat))
	for _, record := range in.Flat {
		shared := make(Record)
		for k, v := range record {
			if _, targeted := o.target[k]; !targeted {
				shared[k] = v
			}
		}
		siblings := make([]Record, 0, len(o.params.TargetKeyGroups))
		for _, keyGroup := range o.params.TargetKeyGroups {
			sibling := shared.Clone()
			for _, key := range keyGroup {
				if value, ok := record[key]; ok {
					sibling[key] = value
				}
			}
			siblings = append(siblings, sibling)
		}
		groups = append(groups, siblings)
	}
	return NewGrouped(groups), nil
}
