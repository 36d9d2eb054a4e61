package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	OK(c, map[string]int{"participants": 4})

	var out struct {
		Participants int `json:"participants"`
	}
	env, err := Decode(rec.Body, &out)
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, 4, out.Participants)
}

func TestDecodeErrorKeepsCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	Error(c, http.StatusConflict, "allocation_conflict", "try later")

	env, err := Decode(rec.Body, nil)
	require.NoError(t, err)
	assert.False(t, env.Success)
	assert.Equal(t, "allocation_conflict", env.Code)
	assert.Equal(t, "try later", env.Error)
}
