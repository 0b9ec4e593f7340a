package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
)

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type product struct {
	ID    string `json:"id" validate:"required"`
	Price string `json:"price" validate:"required,money"`
	Image string `json:"image,omitempty" validate:"omitempty,url"`
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate_Credentials(t *testing.T) {
	assert.NoError(t, Validate(credentials{Email: "a@b.com", Password: "secret1"}))

	fields := fieldsOf(t, Validate(credentials{Email: "nope", Password: "123"}))
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be at least 6 characters", fields["password"])
}

func TestValidate_IsInvalidInput(t *testing.T) {
	err := Validate(product{Price: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 400, apperrors.HTTPStatus(err))
}

func TestValidate_UsesJSONNames(t *testing.T) {
	err := Validate(credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'email' is required")
	assert.Contains(t, err.Error(), "field 'password' is required")
}

func TestValidate_Money(t *testing.T) {
	tests := []struct {
		price string
		ok    bool
	}{
		{"19.99", true},
		{"0", true},
		{"10.005", true},
		{"-1.00", false},
		{"ten", false},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			err := Validate(product{ID: "p1", Price: tt.price})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, "must be a non-negative decimal amount", fieldsOf(t, err)["price"])
		})
	}
}

func TestValidate_OptionalURL(t *testing.T) {
	assert.NoError(t, Validate(product{ID: "p1", Price: "1"}))
	fields := fieldsOf(t, Validate(product{ID: "p1", Price: "1", Image: "not a url"}))
	assert.Equal(t, "must be a valid URL", fields["image"])
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.com","password":"secret1"}`))

	var c credentials
	require.NoError(t, DecodeAndValidate(req, &c))
	assert.Equal(t, "a@b.com", c.Email)
}

func TestDecodeAndValidate_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.com","password":"secret1","admin":true}`))

	var c credentials
	err := DecodeAndValidate(req, &c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{invalid"))

	var c credentials
	assert.Error(t, DecodeAndValidate(req, &c))
}
