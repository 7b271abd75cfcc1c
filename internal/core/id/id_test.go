package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsVersion7AndOrdered(t *testing.T) {
	a, b := New(), New()
	assert.Equal(t, uuid.Version(7), a.Version())
	assert.LessOrEqual(t, int64(a.Time()), int64(b.Time()))
}

func TestParse(t *testing.T) {
	v := New()
	got, err := Parse(v.String())
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = Parse("00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNil)

	_, err = Parse("not-a-uuid")
	assert.Error(t, err)
}
