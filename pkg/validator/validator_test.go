package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createRequest struct {
	ProductID int64             `json:"product_id" validate:"required,gt=0"`
	Quantity  int               `json:"quantity" validate:"required,gte=1"`
	Info      map[string]string `json:"info" validate:"omitempty,max=2"`
}

func TestValidate_Success(t *testing.T) {
	err := Validate(createRequest{ProductID: 7, Quantity: 2})
	assert.NoError(t, err)
}

func TestValidate_CollectsFieldErrors(t *testing.T) {
	err := Validate(createRequest{ProductID: 0, Quantity: 0})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)

	fields := valErr.Fields()
	assert.Len(t, fields, 2)
	assert.Contains(t, fields, "ProductID")
	assert.Contains(t, fields, "Quantity")
}

func TestValidate_MaxTag(t *testing.T) {
	err := Validate(createRequest{
		ProductID: 7,
		Quantity:  1,
		Info:      map[string]string{"a": "1", "b": "2", "c": "3"},
	})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be at most 2", valErr.Fields()["Info"])
}

func TestValidationError_Message(t *testing.T) {
	err := Validate(createRequest{ProductID: -1, Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'ProductID' must be greater than 0")
}
