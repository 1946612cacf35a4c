package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Content string `json:"content" validate:"required"`
}

type testRequest struct {
	SourceID  string     `json:"sourceId" validate:"sourceid"`
	TopK      *int       `json:"topK,omitempty" validate:"omitempty,gte=0,lte=100"`
	Threshold *float64   `json:"threshold,omitempty" validate:"omitempty,gte=-1,lte=1"`
	Items     []testItem `json:"items" validate:"required,min=1,dive"`
}

func intPtr(v int) *int { return &v }

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		s := testRequest{SourceID: "doc-1", TopK: intPtr(3), Items: []testItem{{Content: "x"}}}

		err := ValidateStruct(&s)
		assert.NoError(t, err)
	})

	t.Run("missing required field reports json name", func(t *testing.T) {
		s := testRequest{SourceID: "doc-1"}

		err := ValidateStruct(&s)
		assert.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "items is required", fields["items"])
	})

	t.Run("nested field path", func(t *testing.T) {
		s := testRequest{SourceID: "doc-1", Items: []testItem{{Content: "x"}, {}}}

		err := ValidateStruct(&s)
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields, "items[1].content")
	})

	t.Run("range violations", func(t *testing.T) {
		threshold := 1.5
		s := testRequest{SourceID: "doc-1", TopK: intPtr(101), Threshold: &threshold, Items: []testItem{{Content: "x"}}}

		err := ValidateStruct(&s)
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Equal(t, "topK must be less than or equal to 100", fields["topK"])
		assert.Equal(t, "threshold must be less than or equal to 1", fields["threshold"])
	})

	t.Run("invalid source id", func(t *testing.T) {
		s := testRequest{SourceID: "  ", Items: []testItem{{Content: "x"}}}

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err)["sourceId"], "non-blank")
	})
}

func TestValidateSourceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "lesson-42", false},
		{"unicode", "módulo/apuntes", false},
		{"max length", strings.Repeat("a", MaxSourceIDLength), false},
		{"empty", "", true},
		{"blank", " \t", true},
		{"too long", strings.Repeat("a", MaxSourceIDLength+1), true},
		{"control character", "doc\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		fieldName string
		wantError bool
	}{
		{"non-empty value", "test", "query", false},
		{"empty value", "", "query", true},
		{"whitespace value", "   ", "query", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequired(tt.value, tt.fieldName)
			if tt.wantError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.fieldName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields: map[string]string{
			"field1": "error1",
		},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestGetValidationFields(t *testing.T) {
	fields := map[string]string{"field1": "error1"}
	assert.Equal(t, fields, GetValidationFields(&ValidationError{Message: "test", Fields: fields}))
	assert.Nil(t, GetValidationFields(assert.AnError))
}
