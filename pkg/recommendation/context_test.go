package recommendation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	countKey = NewKey[int]("count")
	nameKey  = NewKey[string]("name")
)

func TestContextPutGet(t *testing.T) {
	rc := NewContext("anna")
	assert.Equal(t, "anna", rc.Owner())

	_, ok := Get(rc, countKey)
	assert.False(t, ok)

	require.NoError(t, Put(rc, countKey, 3))
	require.NoError(t, Put(rc, countKey, 4))
	v, ok := Get(rc, countKey)
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	_, err := MustGet(rc, nameKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestContextMismatchedKeyType(t *testing.T) {
	rc := NewContext("anna")
	require.NoError(t, Put(rc, countKey, 3))

	_, ok := Get(rc, NewKey[string]("count"))
	assert.False(t, ok)
}

func TestContextClose(t *testing.T) {
	rc := NewContext("anna")
	require.NoError(t, Put(rc, countKey, 1))
	assert.False(t, rc.IsClosed())

	rc.Close()
	rc.Close()
	assert.True(t, rc.IsClosed())

	err := Put(rc, countKey, 2)
	assert.ErrorIs(t, err, ErrContextClosed)

	v, ok := Get(rc, countKey)
	assert.True(t, ok)
	assert.Equal(t, 1, v, "values written before closing stay readable")
}

func TestContextViews(t *testing.T) {
	rc := NewContext("anna")
	require.NoError(t, Put(rc, countKey, 1))

	view := rc.View("fold-1")
	_, ok := Get(view, countKey)
	assert.False(t, ok, "parent values are not visible in a view")

	require.NoError(t, Put(view, countKey, 2))
	v, _ := Get(rc, countKey)
	assert.Equal(t, 1, v, "view writes do not leak into the parent")

	other := rc.View("fold-2")
	_, ok = Get(other, countKey)
	assert.False(t, ok)

	same := rc.View("fold-1")
	v, ok = Get(same, countKey)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	nested := view.View("inner")
	_, ok = Get(nested, countKey)
	assert.False(t, ok)
	assert.NotEqual(t, rc.View("fold-1inner").Namespace(), nested.Namespace())

	rc.Close()
	assert.True(t, view.IsClosed(), "views share the lifecycle")
	assert.ErrorIs(t, Put(view, countKey, 3), ErrContextClosed)
	assert.Equal(t, "anna", view.Owner())
}

func TestContextMessages(t *testing.T) {
	rc := NewContext("anna")
	rc.Info("trained on %d documents", 3)
	rc.View("x").Warn("few samples")
	rc.Error("failed")

	messages := rc.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, MessageInfo, messages[0].Level)
	assert.Equal(t, "trained on 3 documents", messages[0].Message)
	assert.Equal(t, MessageWarn, messages[1].Level)
	assert.Equal(t, MessageError, messages[2].Level)
}
