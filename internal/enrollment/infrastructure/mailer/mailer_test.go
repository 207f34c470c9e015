package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitute(t *testing.T) {
	out := Substitute("Hello {first_name}, your confirmation is {confirmation_number}.", map[string]string{
		"first_name":          "Pat",
		"confirmation_number": "EWR-20260901-0AF1C2",
	})
	assert.Equal(t, "Hello Pat, your confirmation is EWR-20260901-0AF1C2.", out)
}

func TestSubstituteLeavesUnknownTokens(t *testing.T) {
	out := Substitute("Hi {first_name}, see {unknown}.", map[string]string{"first_name": "Pat"})
	assert.Equal(t, "Hi Pat, see {unknown}.", out)
}

func TestSubstituteEmptyVars(t *testing.T) {
	assert.Equal(t, "No tokens here.", Substitute("No tokens here.", nil))
}

func TestNoopMailer(t *testing.T) {
	m := NoopMailer{}
	assert.NoError(t, m.SendConfirmation(context.Background(), "a@b.c", "s", "b", nil))
	assert.NoError(t, m.SendResumeLink(context.Background(), "a@b.c", "https://example.com"))
}
