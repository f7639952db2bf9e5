package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/candorworks/exam-proctor/internal/model"
)

func bindBody(t *testing.T, body string) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/redeem", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req model.RedeemRequest
	return Bind(c, &req)
}

func TestBindShortcode(t *testing.T) {
	Setup()

	assert.Nil(t, bindBody(t, `{"shortcode":"ab12CD34"}`))

	fields := bindBody(t, `{"shortcode":"AB12-D34"}`)
	assert.Equal(t, "shortcode must be 8 letters or digits", fields["shortcode"])

	fields = bindBody(t, `{}`)
	assert.Contains(t, fields["shortcode"], "required")
}

func TestBindMalformedJSON(t *testing.T) {
	Setup()

	fields := bindBody(t, `{"shortcode":`)
	assert.Contains(t, fields, "detail")
}
