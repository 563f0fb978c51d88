package transform

// joinOperator shallow-merges all records within each group into one record.
// Later records overwrite earlier ones on key conflicts.
type joinOperator struct{}

func newJoinOperator(params map[string]interface{}) (Operator, error) {
	return &joinOperator{}, nil
}

func (o *joinOperator) Name() string          { return "join" }
func (o *joinOperator) Input() Shape          { return ShapeGrouped }
func (o *joinOperator) Output(in Shape) Shape { return ShapeFlat }

func (o *joinOperator) Apply(in Dataset) (Dataset, error) {
	if in.Shape != ShapeGrouped {
		return Dataset{}, shapeMismatch(o, in.Shape)
	}

	out := make([]Record, 0, len(in.Groups))
	for _, group := range in.Groups {
		merged := make(Record)
		for _, record := range group {
			for k, v := range record {
				merged[k] = v
			}
		}
		out = append(out, merged)
	}
	return NewFlat(out), nil
}

type concatParams struct {
	ConcatKeys []string `json:"concat_keys"`
}

// concatOperator merges each group like join, except values of the listed
// keys are collected into an array in group order; for other keys the first
// value wins.
type concatOperator struct {
	params concatParams
	concat map[string]struct{}
}

func newConcatOperator(params map[string]interface{}) (Operator, error) {
	op := &concatOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	op.concat = make(map[string]struct{}, len(op.params.ConcatKeys))
	for _, key := range op.params.ConcatKeys {
		op.concat[key] = struct{}{}
	}
	return op, nil
}

func (o *concatOperator) Name() string          { return "concat" }
func (o *concatOperator) Input() Shape          { return ShapeGrouped }
func (o *concatOperator) Output(in Shape) Shape { return ShapeFlat }

func (o *concatOperator) Apply(in Dataset) (Dataset, error) {
	if in.Shape != ShapeGrouped {
		return Dataset{}, shapeMismatch(o, in.Shape)
	}

	out := make([]Record, 0, len(in.Groups))
	for _, group := range in.Groups {
		merged := make(Record)
		for _, record := range group {
			for k, v := range record {
				if _, collect := o.concat[k]; collect {
					existing, _ := merged[k].([]interface{})
					merged[k] = append(existing, v)
					continue
				}
				if _, present := merged[k]; !present {
					merged[k] = v
				}
			}
		}
		out = append(out, merged)
	}
	return NewFlat(out), nil
}

// Deconcat expansion modes.
const (
	deconcatSequential   = "sequential"
	deconcatCombinations = "combinations"
)

type deconcatParams struct {
	DeconcatKeys []string `json:"deconcat_keys"`
	Mode         string   `json:"mode"`
}

// deconcatOperator is the inverse of concat: each record expands into a
// group of sub-records, one per array index (sequential) or per element
// combination (combinations). Non-deconcat keys are copied into every
// sub-record.
type deconcatOperator struct {
	params deconcatParams
}

func newDeconcatOperator(params map[string]interface{}) (Operator, error) {
	op := &deconcatOperator{}
	if err := decodeParams(params, &op.params); err != nil {
		return nil, err
	}
	if op.params.Mode == "" {
		op.params.Mode = deconcatSequential
	}
	return op, nil
}

func (o *deconcatOperator) Name() string          { return "deconcat" }
func (o *deconcatOperator) Input() Shape          { return ShapeFlat }
func (o *deconcatOperator) Output(in Shape) Shape { return ShapeGrouped }

func (o *deconcatOperator) Apply(in Dataset) (Dataset, error) {
	if in.Shape != ShapeFlat {
		return Dataset{}, shapeMismatch(o, in.Shape)
	}

	groups := make([][]Record, 0, len(in.Flat))
	for _, record := range in.Flat {
		base := make(Record)
		arrays := make([][]interface{}, len(o.params.DeconcatKeys))
		for k, v := range record {
			if idx := indexOf(o.params.DeconcatKeys, k); idx >= 0 {
				arrays[idx] = asArray(v)
				continue
			}
			base[k] = v
		}
		if o.params.Mode == deconcatCombinations {
			groups = append(groups, o.combinations(base, arrays))
		} else {
			groups = append(groups, o.sequential(base, arrays))
		}
	}
	return NewGrouped(groups), nil
}

// sequential zips the arrays index-aligned, padding with nil up to the
// longest array.
func (o *deconcatOperator) sequential(base Record, arrays [][]interface{}) []Record {
	maxLen := 0
	for _, arr := range arrays {
		if len(arr) > maxLen {
			maxLen = len(arr)
		}
	}
	group := make([]Record, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		sub := base.Clone()
		for j, key := range o.params.DeconcatKeys {
			if i < len(arrays[j]) {
				sub[key] = arrays[j][i]
			} else {
				sub[key] = nil
			}
		}
		group = append(group, sub)
	}
	return group
}

// combinations takes the Cartesian product across the arrays, in the key
// order given by deconcat_keys.
func (o *deconcatOperator) combinations(base Record, arrays [][]interface{}) []Record {
	group := []Record{base.Clone()}
	for j, key := range o.params.DeconcatKeys {
		next := make([]Record, 0, len(group)*len(arrays[j]))
		for _, partial := range group {
			for _, element := range arrays[j] {
				sub := partial.Clone()
				sub[key] = element
				next = append(next, sub)
			}
		}
		group = next
	}
	return group
}

func indexOf(keys []string, key string) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

// asArray treats a non-array value as a singleton so records with scalar
// values for a deconcat key still expand.
func asArray(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}
