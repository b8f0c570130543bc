package controllers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers"
	"github.com/bionicotaku/lingo-services-ingest/internal/controllers/dto"
)

func encode(t *testing.T, err error) (int, dto.ErrorResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	controllers.EncodeError(rec, httptest.NewRequest(http.MethodPost, "/", nil), err)
	var body dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, body
}

func TestEncodeError_KratosError(t *testing.T) {
	code, body := encode(t, kerrors.BadRequest(controllers.ReasonInvalidRequest, "Missing required fields").
		WithCause(errors.New("missing: chunk")))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields", body.Error)
	assert.Equal(t, "missing: chunk", body.Details)
}

func TestEncodeError_ReasonWhenNoCause(t *testing.T) {
	code, body := encode(t, kerrors.InternalServer(controllers.ReasonInternal, "Failed to process chunk"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, controllers.ReasonInternal, body.Details)
}

func TestEncodeError_PlainErrorIs500(t *testing.T) {
	code, body := encode(t, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotEmpty(t, body.Error)
}
