package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTarget struct {
	ContactID string `json:"contactId" binding:"required"`
	Source    string `json:"source" binding:"omitempty,oneof=shop pos"`
}

func TestFieldErrors(t *testing.T) {
	SetupValidator()

	var bindErr error
	router := gin.New()
	router.POST("/bind", func(c *gin.Context) {
		var target bindTarget
		bindErr = c.ShouldBindJSON(&target)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bind", strings.NewReader(`{"source":"fax"}`)))
	require.Error(t, bindErr)

	details := FieldErrors(bindErr)
	require.Len(t, details, 2)
	assert.Equal(t, "contactId", details[0].Field)
	assert.Equal(t, "required", details[0].Code)
	assert.Equal(t, "This field is required", details[0].Message)
	assert.Equal(t, "source", details[1].Field)
	assert.Equal(t, "Must be one of: shop pos", details[1].Message)
}

func TestFieldErrors_NotValidation(t *testing.T) {
	var syntaxErr *json.SyntaxError
	err := json.Unmarshal([]byte(`{`), &struct{}{})
	require.True(t, errors.As(err, &syntaxErr))

	assert.Nil(t, FieldErrors(err))
	assert.Nil(t, FieldErrors(nil))
}
