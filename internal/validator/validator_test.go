package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	payload := []byte(`{"summary":"looks fine","items":[{"title":"missed deadline","severity":"medium"}]}`)
	result := v.Validate(ActiveReportSchemaVersion, payload)

	assert.True(t, result.OK)
	assert.Empty(t, result.Errors)
}

func TestValidate_MissingRequiredField(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	payload := []byte(`{"items":[]}`)
	result := v.Validate(ActiveReportSchemaVersion, payload)

	assert.False(t, result.OK)
	assert.NotEmpty(t, result.Summary)
}

func TestValidate_InvalidSeverityEnum(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	payload := []byte(`{"summary":"x","items":[{"title":"t","severity":"critical"}]}`)
	result := v.Validate(ActiveReportSchemaVersion, payload)

	assert.False(t, result.OK)
	require.NotEmpty(t, result.Errors)
}

func TestValidate_NotJSON(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	result := v.Validate(ActiveReportSchemaVersion, []byte("not json"))

	assert.False(t, result.OK)
	assert.Contains(t, result.Summary, "not valid JSON")
}

func TestValidate_UnknownSchemaVersion(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	result := v.Validate("v99", []byte(`{}`))

	assert.False(t, result.OK)
	assert.Contains(t, result.Summary, "unknown schema version")
}

func TestValidate_ErrorsAreBounded(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	var items []string
	for i := 0; i < 50; i++ {
		items = append(items, `{"severity":"nonsense"}`)
	}
	payload := []byte(`{"summary":"x","items":[` + strings.Join(items, ",") + `]}`)

	result := v.Validate(ActiveReportSchemaVersion, payload)

	assert.False(t, result.OK)
	assert.LessOrEqual(t, len(result.Errors), MaxValidationErrors)
}

func TestValidate_AdditionalPropertiesRejected(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	payload := []byte(`{"summary":"x","items":[],"extra":"nope"}`)
	result := v.Validate(ActiveReportSchemaVersion, payload)

	assert.False(t, result.OK)
}
