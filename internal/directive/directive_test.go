package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseList_PlainVerbs(t *testing.T) {
	ds := ParseList("trim, lower,nospace")
	require.Len(t, ds, 3)
	assert.Equal(t, Trim, ds[0].Verb)
	assert.Equal(t, Lower, ds[1].Verb)
	assert.Equal(t, NoSpace, ds[2].Verb)
	assert.Empty(t, ds[0].Params)
}

func TestParseList_PreservesOrder(t *testing.T) {
	ds := ParseList("upper,trim,alphanum")
	require.Len(t, ds, 3)
	assert.Equal(t, []string{Upper, Trim, Alnum}, []string{ds[0].Verb, ds[1].Verb, ds[2].Verb})
}

func TestParseList_SingleParam(t *testing.T) {
	ds := ParseList("random[8]")
	require.Len(t, ds, 1)
	assert.Equal(t, Random, ds[0].Verb)
	assert.Equal(t, "8", ds[0].Param(0))
	assert.Equal(t, 8, ds[0].ParamInt(0))
}

func TestParseList_MultipleParamGroups(t *testing.T) {
	ds := ParseList("files[jpg;png;gif][250]")
	require.Len(t, ds, 1)
	d := ds[0]
	assert.Equal(t, Files, d.Verb)
	assert.Equal(t, []string{"jpg", "png", "gif"}, d.ParamList(0))
	assert.Equal(t, 250, d.ParamInt(1))
}

func TestParseList_SiblingFieldList(t *testing.T) {
	ds := ParseList("uniqueHashInt[name;email;zip]")
	require.Len(t, ds, 1)
	assert.Equal(t, []string{"name", "email", "zip"}, ds[0].ParamList(0))
}

func TestParseList_EmptyEntriesSkipped(t *testing.T) {
	ds := ParseList(" , trim, ,")
	require.Len(t, ds, 1)
	assert.Equal(t, Trim, ds[0].Verb)
}

func TestParseList_Empty(t *testing.T) {
	assert.Nil(t, ParseList(""))
	assert.Nil(t, ParseList("  "))
}

func TestParseOne_UnterminatedGroup(t *testing.T) {
	ds := ParseList("atLeast[5")
	require.Len(t, ds, 1)
	assert.Equal(t, "5", ds[0].Param(0))
}

func TestParam_OutOfRange(t *testing.T) {
	d := Directive{Verb: Trim}
	assert.Equal(t, "", d.Param(0))
	assert.Equal(t, 0, d.ParamInt(2))
	assert.Nil(t, d.ParamList(0))
}

func TestParseMap(t *testing.T) {
	m := ParseMap(map[string]string{
		"email": "trim,lower",
		"zip":   "num",
	})
	require.Len(t, m, 2)
	assert.Equal(t, Lower, m["email"][1].Verb)
	assert.Equal(t, Num, m["zip"][0].Verb)

	assert.Nil(t, ParseMap(nil))
}
