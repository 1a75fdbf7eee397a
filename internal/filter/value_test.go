package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixlab-labs/igni/internal/expr"
)

func intData(n int64) *expr.DataNode { return &expr.DataNode{DKind: expr.DataInt, Int: n} }

func listData(items ...*expr.DataNode) *expr.DataNode {
	return &expr.DataNode{DKind: expr.DataList, List: items}
}

func TestValue_AsColor_BGR(t *testing.T) {
	v := dataValue(listData(intData(255), intData(0), intData(0))) // B=255,G=0,R=0
	c, err := v.asColor()
	require.NoError(t, err)
	assert.EqualValues(t, 255, c.B)
	assert.EqualValues(t, 0, c.G)
	assert.EqualValues(t, 0, c.R)
	assert.EqualValues(t, 255, c.A) // defaults opaque
}

func TestValue_AsColor_BGRA(t *testing.T) {
	v := dataValue(listData(intData(0), intData(255), intData(0), intData(128)))
	c, err := v.asColor()
	require.NoError(t, err)
	assert.EqualValues(t, 255, c.G)
	assert.EqualValues(t, 128, c.A)
}

func TestValue_AsColor_WrongArity(t *testing.T) {
	v := dataValue(listData(intData(1), intData(2)))
	_, err := v.asColor()
	require.Error(t, err)
}

func TestValue_AsPoint(t *testing.T) {
	v := dataValue(listData(intData(10), intData(20)))
	p, err := v.asPoint()
	require.NoError(t, err)
	assert.Equal(t, 10, p.X)
	assert.Equal(t, 20, p.Y)
}

func TestValue_AsInt_FromFrameFails(t *testing.T) {
	v := Value{IsFrame: true}
	_, err := v.asInt()
	require.Error(t, err)
}
