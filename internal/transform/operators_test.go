package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-research/rdm-api/internal/formula"
)

func mustBuild(t *testing.T, name string, params map[string]interface{}) Operator {
	t.Helper()
	op, err := Build(Spec{Operator: name, Params: params})
	require.NoError(t, err)
	return op
}

func TestGroupPartitionsByKeyPath(t *testing.T) {
	op := mustBuild(t, "group", map[string]interface{}{"keys": []string{"subject", "meta.visit"}})

	in := NewFlat([]Record{
		{"subject": "A", "meta": map[string]interface{}{"visit": "1"}, "v": 1.0},
		{"subject": "A", "meta": map[string]interface{}{"visit": "1"}, "v": 2.0},
		{"subject": "B", "meta": map[string]interface{}{"visit": "1"}, "v": 3.0},
		{"subject": "C", "v": 4.0}, // missing meta.visit
	})

	out, err := op.Apply(in)
	require.NoError(t, err)
	require.Equal(t, ShapeGrouped, out.Shape)
	require.Len(t, out.Groups, 3)
	assert.Len(t, out.Groups[0], 2)
	assert.Len(t, out.Groups[1], 1)
	// The unmatched record trails as its own singleton group.
	assert.Len(t, out.Groups[2], 1)
	assert.Equal(t, 4.0, out.Groups[2][0]["v"])
}

func TestGroupSkipUnmatch(t *testing.T) {
	op := mustBuild(t, "group", map[string]interface{}{"keys": []string{"subject"}, "skip_unmatch": true})

	out, err := op.Apply(NewFlat([]Record{
		{"subject": "A"},
		{"other": "x"},
	}))
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
}

func TestAffineAddRewriteRemove(t *testing.T) {
	op := mustBuild(t, "affine", map[string]interface{}{
		"added_keys": map[string]interface{}{
			"source": map[string]interface{}{"type": "value", "value": "derived"},
		},
		"rules": map[string]interface{}{
			"score": map[string]interface{}{
				"type": "op", "op": "multiply",
				"children": []interface{}{
					map[string]interface{}{"type": "self"},
					map[string]interface{}{"type": "value", "value": 10.0},
				},
			},
		},
		"removed_keys": []string{"scratch"},
	})

	out, err := op.Apply(NewFlat([]Record{
		{"score": 4.0, "scratch": "tmp"},
	}))
	require.NoError(t, err)
	require.Len(t, out.Flat, 1)
	assert.Equal(t, "derived", out.Flat[0]["source"])
	assert.Equal(t, 40.0, out.Flat[0]["score"])
	_, present := out.Flat[0]["scratch"]
	assert.False(t, present)
}

func TestAffineDropsEmptiedRecords(t *testing.T) {
	op := mustBuild(t, "affine", map[string]interface{}{"removed_keys": []string{"only"}})

	out, err := op.Apply(NewFlat([]Record{{"only": 1.0}, {"only": 1.0, "kept": 2.0}}))
	require.NoError(t, err)
	require.Len(t, out.Flat, 1)
	assert.Equal(t, 2.0, out.Flat[0]["kept"])
}

func TestLeaveOneKeepsExtremum(t *testing.T) {
	group := [][]Record{{
		{"id": "a", "score": 10.0},
		{"id": "b", "score": 30.0},
		{"id": "c", "score": 20.0},
	}}

	max := mustBuild(t, "leaveOne", map[string]interface{}{"score_key": "score", "is_descend": true})
	out, err := max.Apply(NewGrouped(group))
	require.NoError(t, err)
	require.Len(t, out.Flat, 1)
	assert.Equal(t, "b", out.Flat[0]["id"])

	min := mustBuild(t, "leaveOne", map[string]interface{}{"score_key": "score"})
	out, err = min.Apply(NewGrouped(group))
	require.NoError(t, err)
	assert.Equal(t, "a", out.Flat[0]["id"])
}

func TestJoinMergesLaterWins(t *testing.T) {
	op := mustBuild(t, "join", nil)

	out, err := op.Apply(NewGrouped([][]Record{{
		{"a": 1.0, "b": "first"},
		{"b": "second", "c": true},
	}}))
	require.NoError(t, err)
	require.Len(t, out.Flat, 1)
	assert.Equal(t, 1.0, out.Flat[0]["a"])
	assert.Equal(t, "second", out.Flat[0]["b"])
	assert.Equal(t, true, out.Flat[0]["c"])
}

func TestConcatCollectsListedKeys(t *testing.T) {
	op := mustBuild(t, "concat", map[string]interface{}{"concat_keys": []string{"v"}})

	out, err := op.Apply(NewGrouped([][]Record{{
		{"v": 1.0, "b": "x"},
		{"v": 2.0, "b": "y"},
	}}))
	require.NoError(t, err)
	require.Len(t, out.Flat, 1)
	assert.Equal(t, []interface{}{1.0, 2.0}, out.Flat[0]["v"])
	// First value wins for non-concat keys.
	assert.Equal(t, "x", out.Flat[0]["b"])
}

func TestDeconcatSequentialPadsToMaxLength(t *testing.T) {
	op := mustBuild(t, "deconcat", map[string]interface{}{
		"deconcat_keys": []string{"a", "b"},
		"mode":          "sequential",
	})

	out, err := op.Apply(NewFlat([]Record{
		{"a": []interface{}{1.0, 2.0, 3.0}, "b": []interface{}{"x"}, "keep": "k"},
	}))
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
	group := out.Groups[0]
	require.Len(t, group, 3)
	assert.Equal(t, 1.0, group[0]["a"])
	assert.Equal(t, "x", group[0]["b"])
	assert.Equal(t, 2.0, group[1]["a"])
	assert.Nil(t, group[1]["b"])
	assert.Equal(t, "k", group[2]["keep"])
}

func TestDeconcatCombinations(t *testing.T) {
	op := mustBuild(t, "deconcat", map[string]interface{}{
		"deconcat_keys": []string{"a", "b"},
		"mode":          "combinations",
	})

	out, err := op.Apply(NewFlat([]Record{
		{"a": []interface{}{1.0, 2.0}, "b": []interface{}{"x", "y"}},
	}))
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
	require.Len(t, out.Groups[0], 4)
	assert.Equal(t, 1.0, out.Groups[0][0]["a"])
	assert.Equal(t, "x", out.Groups[0][0]["b"])
	assert.Equal(t, 2.0, out.Groups[0][3]["a"])
	assert.Equal(t, "y", out.Groups[0][3]["b"])
}

func TestDeconcatConcatRoundTrip(t *testing.T) {
	original := []Record{{"a": []interface{}{1.0, 2.0}, "b": "x"}}

	deconcat := mustBuild(t, "deconcat", map[string]interface{}{
		"deconcat_keys": []string{"a"},
		"mode":          "sequential",
	})
	expanded, err := deconcat.Apply(NewFlat(original))
	require.NoError(t, err)

	concat := mustBuild(t, "concat", map[string]interface{}{"concat_keys": []string{"a"}})
	restored, err := concat.Apply(expanded)
	require.NoError(t, err)
	require.Len(t, restored.Flat, 1)
	assert.Equal(t, []interface{}{1.0, 2.0}, restored.Flat[0]["a"])
	assert.Equal(t, "x", restored.Flat[0]["b"])
}

func TestDegroupSplitsByTargetGroups(t *testing.T) {
	op := mustBuild(t, "degroup", map[string]interface{}{
		"target_key_groups": [][]string{{"weight"}, {"height"}},
	})

	out, err := op.Apply(NewFlat([]Record{
		{"subject": "A", "weight": 70.0, "height": 180.0},
	}))
	require.NoError(t, err)
	require.Len(t, out.Groups, 1)
	require.Len(t, out.Groups[0], 2)
	assert.Equal(t, "A", out.Groups[0][0]["subject"])
	assert.Equal(t, 70.0, out.Groups[0][0]["weight"])
	_, present := out.Groups[0][0]["height"]
	assert.False(t, present)
	assert.Equal(t, 180.0, out.Groups[0][1]["height"])
}

func TestFilterAndAcrossKeys(t *testing.T) {
	op := mustBuild(t, "filter", map[string]interface{}{
		"filters": map[string]interface{}{
			"age":    [][]formula.Verifier{{{Condition: formula.ConditionGreaterEqual, Value: 18.0}}},
			"status": [][]formula.Verifier{{{Condition: formula.ConditionStringEqual, Value: "active"}}},
		},
	})

	out, err := op.Apply(NewFlat([]Record{
		{"age": 30.0, "status": "active"},
		{"age": 10.0, "status": "active"},
		{"age": 40.0, "status": "inactive"},
		{"status": "active"}, // missing key fails the filter
	}))
	require.NoError(t, err)
	require.Len(t, out.Flat, 1)
	assert.Equal(t, 30.0, out.Flat[0]["age"])
}

func TestFilterGroupedPreservesShape(t *testing.T) {
	op := mustBuild(t, "filter", map[string]interface{}{
		"filters": map[string]interface{}{
			"v": [][]formula.Verifier{{{Condition: formula.ConditionGreater, Value: 1.0}}},
		},
	})

	out, err := op.Apply(NewGrouped([][]Record{
		{{"v": 2.0}, {"v": 0.0}},
		{{"v": 0.5}},
	}))
	require.NoError(t, err)
	require.Equal(t, ShapeGrouped, out.Shape)
	require.Len(t, out.Groups, 1)
	assert.Len(t, out.Groups[0], 1)
}

func TestFlattenMergesNestedObject(t *testing.T) {
	op := mustBuild(t, "flatten", map[string]interface{}{"flattened_key": "meta"})

	out, err := op.Apply(NewFlat([]Record{
		{"id": "r1", "meta": map[string]interface{}{"visit": "1", "id": "nested"}},
	}))
	require.NoError(t, err)
	require.Len(t, out.Flat, 1)
	assert.Equal(t, "1", out.Flat[0]["visit"])
	// Parent keys win on conflict and the nested key is removed.
	assert.Equal(t, "r1", out.Flat[0]["id"])
	_, present := out.Flat[0]["meta"]
	assert.False(t, present)
}

func TestFlattenKeepFlattened(t *testing.T) {
	op := mustBuild(t, "flatten", map[string]interface{}{"flattened_key": "meta", "keep_flattened": true})

	out, err := op.Apply(NewFlat([]Record{
		{"meta": map[string]interface{}{"visit": "1"}},
	}))
	require.NoError(t, err)
	_, present := out.Flat[0]["meta"]
	assert.True(t, present)
	assert.Equal(t, "1", out.Flat[0]["visit"])
}
