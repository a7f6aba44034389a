package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageAndKind(t *testing.T) {
	err := NotFound("ArgoCD resource not found at %s", "https://argo/api/v1/applications/x")

	assert.Equal(t, "ArgoCD resource not found at https://argo/api/v1/applications/x", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAuthentication)
}

func TestWrap_KeepsKindAndComposesMessage(t *testing.T) {
	base := RequestFailed("Request to %s failed with %d %s", "https://a", 500, "Internal Server Error")
	err := Wrap(base, "Failed to fetch Application from Instance 'a'")

	assert.Equal(t, "Failed to fetch Application from Instance 'a' : Request to https://a failed with 500 Internal Server Error", err.Error())
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, ErrRequestFailed, KindOf(err))
	assert.Nil(t, Wrap(nil, "x"))
}

func TestRequestFailedCause_Unwraps(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := RequestFailedCause(cause, "argocd request failed: %v", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestKindOf_Unknown(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("plain")))
}
