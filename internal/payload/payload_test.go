package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectPreservesKeyOrder(t *testing.T) {
	src := `{"zeta":1,"alpha":{"b":true,"a":null},"mid":["x",2.5,{"k":"v"}]}`

	var obj Object
	require.NoError(t, json.Unmarshal([]byte(src), &obj))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, obj.Keys())

	out, err := json.Marshal(&obj)
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
}

func TestObjectMergeIsShallow(t *testing.T) {
	base := MustObject(map[string]any{
		"code":  "x=1",
		"notes": "keep me",
		"meta":  map[string]any{"lang": "py", "lines": 1},
	})
	update := MustObject(map[string]any{
		"code": "x=2",
		"meta": map[string]any{"lines": 2},
	})

	base.Merge(update)

	code, _ := base.Get("code")
	s, _ := code.AsString()
	assert.Equal(t, "x=2", s)

	notes, ok := base.Get("notes")
	require.True(t, ok)
	s, _ = notes.AsString()
	assert.Equal(t, "keep me", s)

	meta, _ := base.Get("meta")
	metaObj, ok := meta.AsObject()
	require.True(t, ok)
	_, hasLang := metaObj.Get("lang")
	assert.False(t, hasLang, "nested objects are replaced, not merged")
}

func TestCloneIsDeep(t *testing.T) {
	orig := MustObject(map[string]any{"list": []any{"a"}, "nested": map[string]any{"k": "v"}})
	cp := orig.Clone()

	nested, _ := cp.Get("nested")
	nestedObj, _ := nested.AsObject()
	nestedObj.Set("k", String("changed"))
	cp.Set("extra", Bool(true))

	origNested, _ := orig.Get("nested")
	origObj, _ := origNested.AsObject()
	v, _ := origObj.Get("k")
	s, _ := v.AsString()
	assert.Equal(t, "v", s)
	assert.Equal(t, 2, orig.Len())
}

func TestUnmarshalNullAndErrors(t *testing.T) {
	var obj Object
	require.NoError(t, obj.UnmarshalJSON([]byte("null")))
	assert.Equal(t, 0, obj.Len())

	assert.Error(t, obj.UnmarshalJSON([]byte(`[1,2]`)))
	assert.Error(t, obj.UnmarshalJSON([]byte(`{"a":1} {"b":2}`)))
	assert.Error(t, obj.UnmarshalJSON([]byte(`{"a":`)))
}

func TestDeleteKeepsOrder(t *testing.T) {
	obj := NewObject()
	obj.Set("a", Int(1))
	obj.Set("b", Int(2))
	obj.Set("c", Int(3))
	obj.Delete("b")
	obj.Set("a", Int(10))

	assert.Equal(t, []string{"a", "c"}, obj.Keys())
	v, _ := obj.Get("a")
	f, ok := v.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 10.0, f)
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)

	v, err := FromAny(map[string]any{"n": 3, "ok": true})
	require.NoError(t, err)
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":3,"ok":true}`, string(out))
}
