package validate

import (
	"testing"

	"github.com/go-api-guard/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStruct_WrapsValidation(t *testing.T) {
	err := Struct(domain.IssueTokenRequest{SubjectID: "u1", Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorContains(t, err, "field 'Email' failed 'email'")
}

func TestStruct_OK(t *testing.T) {
	assert.NoError(t, Struct(domain.IssueTokenRequest{SubjectID: "u1", Email: "a@b.co"}))
}
