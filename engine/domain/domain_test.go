package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQuery(t *testing.T) {
	assert.NoError(t, ValidateQuery("What is the max supply air temperature?"))

	err := ValidateQuery(" a ")
	assert.ErrorIs(t, err, ErrQueryTooShort)
	assert.ErrorIs(t, err, ErrInvalidInput)

	for _, q := range []string{
		"How often should I update the thermostat set point?",
		"Can I update the setpoint from 70 to 75?",
		"Should we delete old readings from the table before the audit?",
		"What is the maximum setpoint?",
	} {
		assert.NoError(t, ValidateQuery(q), q)
	}
	assert.ErrorIs(t, ValidateQuery(strings.Repeat("a", maxQueryLength+1)), ErrQueryTooLong)
}

func TestValidateTable(t *testing.T) {
	assert.ErrorIs(t, ValidateTable(Table{}), ErrEmptyTable)
	assert.ErrorIs(t, ValidateTable(Table{Rows: []Row{{}}}), ErrInvalidInput)
	assert.NoError(t, ValidateTable(Table{Rows: []Row{{"amount": 1.0}}}))
}

func TestValidateCollection(t *testing.T) {
	assert.NoError(t, ValidateCollection("regulations"))
	assert.Error(t, ValidateCollection(""))
	assert.Error(t, ValidateCollection("../etc"))
}

func TestValidationErrorMessage(t *testing.T) {
	ve := NewValidationError("query", "a", ErrQueryTooShort)
	assert.Contains(t, ve.Error(), "query too short")
	assert.Contains(t, ve.Error(), `value="a"`)
}

func TestUpstreamWrapsOnce(t *testing.T) {
	base := errors.New("connection refused")
	err := Upstream("embed", base)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, base)
	assert.Same(t, err, Upstream("search", err))
	assert.NoError(t, Upstream("x", nil))
}

func TestAsNumber(t *testing.T) {
	var row Row
	require.NoError(t, json.Unmarshal([]byte(`{"a":1.5,"b":true,"c":"7","d":3}`), &row))
	v, ok := row.Number("a")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	_, ok = row.Number("b")
	assert.False(t, ok)
	_, ok = row.Number("c")
	assert.False(t, ok)
	v, ok = AsNumber(json.Number("42"))
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)
	v, ok = AsNumber(7)
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestTableColumns(t *testing.T) {
	tbl := Table{Rows: []Row{{"b": 1, "a": 2}, {"c": 3}}}
	assert.Equal(t, []string{"a", "b", "c"}, tbl.Columns())
	assert.Equal(t, 2, tbl.Len())
}

func TestChunkAccessors(t *testing.T) {
	c := Chunk{SourcePath: "/tmp/a.pdf", Metadata: map[string]any{}}
	assert.Equal(t, "/tmp/a.pdf", c.Source())

	c.Metadata[MetaSource] = "uploads/a.pdf"
	assert.Equal(t, "uploads/a.pdf", c.Source())
}
