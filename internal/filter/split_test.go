package filter

import (
	"math/rand"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	id     string
	values map[string]interface{}
}

func (r testRecord) ID() string { return r.id }

func (r testRecord) Lookup(name string) (interface{}, bool) {
	v, ok := r.values[name]
	return v, ok
}

func TestSplitOrWithUnsupportedLeafIsResidual(t *testing.T) {
	caps := NewCapabilities(OpEqual).WithLogic(LogicAnd, LogicOr, LogicNot)
	p := AnyOf(Eq("name", "X"), Compare(Area("geom"), OpGreater, 10))

	pushed, residual := Split(p, caps)

	assert.True(t, IsInclude(pushed))
	assert.Equal(t, p, residual)
}

func TestSplitSupportedConjunctionIsPushed(t *testing.T) {
	caps := NewCapabilities(OpEqual).WithLogic(LogicAnd, LogicOr, LogicNot)
	p := AllOf(Eq("name", "X"), Eq("name", "Y"))

	pushed, residual := Split(p, caps)

	assert.Equal(t, And{Children: []Predicate{Eq("name", "X"), Eq("name", "Y")}}, pushed)
	assert.True(t, IsInclude(residual))
}

func TestSplitMixedConjunction(t *testing.T) {
	caps := NewCapabilities(OpEqual, OpLess).WithLogic(LogicAnd, LogicOr)
	p := AllOf(
		Eq("name", "X"),
		AllOf(Lt("pop", 10), Like("name", "X%")),
		Negate(Eq("name", "Z")),
	)

	pushed, residual := Split(p, caps)

	assert.Equal(t, And{Children: []Predicate{Eq("name", "X"), Lt("pop", 10)}}, pushed)
	assert.Equal(t, And{Children: []Predicate{Like("name", "X%"), Negate(Eq("name", "Z"))}}, residual)
}

func TestSplitSentinels(t *testing.T) {
	caps := NewCapabilities()

	pushed, residual := Split(nil, caps)
	assert.True(t, IsInclude(pushed))
	assert.True(t, IsInclude(residual))

	pushed, residual = Split(None, caps)
	assert.True(t, IsExclude(pushed))
	assert.True(t, IsInclude(residual))
}

func TestSplitFunctionCapability(t *testing.T) {
	p := Compare(Area("geom"), OpGreater, 10)

	pushed, residual := Split(p, NewCapabilities(OpGreater))
	assert.True(t, IsInclude(pushed))
	assert.Equal(t, p, residual)

	pushed, residual = Split(p, NewCapabilities(OpGreater).WithFunctions("AREA"))
	assert.Equal(t, p, pushed)
	assert.True(t, IsInclude(residual))
}

// TestSplitEquivalence checks pushed AND residual against the original
// predicate over generated predicates and records.
func TestSplitEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	capSets := []Capabilities{
		NewCapabilities(),
		NewCapabilities(OpEqual),
		NewCapabilities(OpEqual, OpLess).WithLogic(LogicAnd),
		NewCapabilities(ComparisonOperators...).WithLogic(LogicAnd, LogicOr, LogicNot),
		NewCapabilities(OpLike, OpIsNull, OpBBox).WithLogic(LogicOr).WithFeatureIDs(),
	}
	records := make([]testRecord, 40)
	for i := range records {
		records[i] = randomRecord(rng, i)
	}

	for i := 0; i < 300; i++ {
		p := randomPredicate(rng, 3)
		for _, caps := range capSets {
			pushed, residual := Split(p, caps)
			assertOnlySupported(t, pushed, caps)
			for _, r := range records {
				want, err := Evaluate(p, r)
				require.NoError(t, err)
				gotPushed, err := Evaluate(pushed, r)
				require.NoError(t, err)
				gotResidual, err := Evaluate(residual, r)
				require.NoError(t, err)
				require.Equal(t, want, gotPushed && gotResidual, "predicate %s on %v", p, r.values)
				if want {
					require.True(t, gotPushed, "pushed %s must be a superset", pushed)
				}
			}
		}
	}
}

func assertOnlySupported(t *testing.T, pushed Predicate, caps Capabilities) {
	t.Helper()
	for _, c := range conjuncts(Normalize(pushed)) {
		require.True(t, caps.Supports(c), "pushed conjunct %s is not supported", c)
	}
}

func randomRecord(rng *rand.Rand, i int) testRecord {
	names := []string{"X", "Y", "Z"}
	values := map[string]interface{}{
		"name": names[rng.Intn(len(names))],
		"pop":  int64(rng.Intn(20)),
		"geom": geom.Polygon{{{0, 0}, {float64(rng.Intn(5) + 1), 0}, {float64(rng.Intn(5) + 1), 4}, {0, 4}}},
	}
	if rng.Intn(5) == 0 {
		values["name"] = nil
	}
	return testRecord{id: names[i%3] + "." + string(rune('a'+i%26)), values: values}
}

func randomPredicate(rng *rand.Rand, depth int) Predicate {
	if depth == 0 || rng.Intn(3) == 0 {
		switch rng.Intn(9) {
		case 0:
			return Eq("name", []string{"X", "Y"}[rng.Intn(2)])
		case 1:
			return Lt("pop", int64(rng.Intn(20)))
		case 2:
			return Ge("pop", rng.Intn(20))
		case 3:
			return Like("name", "X%")
		case 4:
			return IsNull("name")
		case 5:
			return Compare(Area("geom"), OpGreater, float64(rng.Intn(20)))
		case 6:
			return Intersects("geom", 2, 2, 3, 3, -1)
		case 7:
			return IDs("X.a", "Y.b")
		default:
			return []Predicate{All, None}[rng.Intn(2)]
		}
	}
	n := rng.Intn(3) + 1
	children := make([]Predicate, n)
	for i := range children {
		children[i] = randomPredicate(rng, depth-1)
	}
	switch rng.Intn(3) {
	case 0:
		return AllOf(children...)
	case 1:
		return AnyOf(children...)
	default:
		return Negate(children[0])
	}
}

func TestEvaluateThreeValuedLogic(t *testing.T) {
	r := testRecord{id: "t.1", values: map[string]interface{}{"name": nil, "pop": int64(5)}}

	ok, err := Evaluate(Eq("name", "X"), r)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Evaluate(Negate(Eq("name", "X")), r)
	require.NoError(t, err)
	assert.False(t, ok, "NOT of unknown stays unknown")

	ok, err = Evaluate(AnyOf(Eq("name", "X"), Gt("pop", 1)), r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(IsNull("name"), r)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateUnknownAttribute(t *testing.T) {
	r := testRecord{id: "t.1", values: map[string]interface{}{}}
	_, err := Evaluate(Eq("missing", 1), r)
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestEvaluateLike(t *testing.T) {
	r := testRecord{id: "t.1", values: map[string]interface{}{"name": "Main St."}}
	for pattern, want := range map[string]bool{
		"Main%":    true,
		"%St.":     true,
		"M_in St.": true,
		"main%":    false,
		"Main\\%":  false,
	} {
		ok, err := Evaluate(Like("name", pattern), r)
		require.NoError(t, err)
		assert.Equal(t, want, ok, pattern)
	}
}

func TestGeometryMeasures(t *testing.T) {
	square := geom.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}}, {{1, 1}, {2, 1}, {2, 2}, {1, 2}}}

	area, err := GeometryArea(square)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, area, 1e-9)

	length, err := GeometryLength(geom.LineString{{0, 0}, {3, 4}})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, length, 1e-9)

	env, err := Envelope(square)
	require.NoError(t, err)
	assert.True(t, ExtentsIntersect(env, &geom.Extent{3, 3, 10, 10}))
	assert.False(t, ExtentsIntersect(env, &geom.Extent{5, 5, 10, 10}))
}

func TestAttributes(t *testing.T) {
	p := AllOf(Eq("b", 1), AnyOf(Compare(Area("geom"), OpGreater, 1), IsNull("a")), Negate(Eq("b", 2)))
	assert.Equal(t, []string{"a", "b", "geom"}, Attributes(p))
	assert.Empty(t, Attributes(nil))
}
