package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/flowhook-api/internal/capability"
)

type recordingMailer struct {
	to, subject, body string
}

func (m *recordingMailer) Send(to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return nil
}

func TestSendEmail_FillsTemplateFromTriggerOutput(t *testing.T) {
	mailer := &recordingMailer{}
	reaction := NewSendEmail(mailer)

	inv := &capability.Invocation{
		Params: map[string]any{
			"to":      "user@example.com",
			"subject": "{{user_login}} is live",
			"body":    "Watch at https://twitch.tv/{{user_login}}",
		},
		Input: map[string]any{"user_login": "streamer"},
	}

	result, err := reaction.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "user@example.com", mailer.to)
	assert.Equal(t, "streamer is live", mailer.subject)
	assert.Equal(t, "Watch at https://twitch.tv/streamer", mailer.body)
}

func TestSendEmail_UnconfiguredSMTPFails(t *testing.T) {
	reaction := NewSendEmail(nil)

	inv := &capability.Invocation{
		Params: map[string]any{"to": "user@example.com", "subject": "s", "body": "b"},
	}

	_, err := reaction.Run(context.Background(), inv)
	assert.Error(t, err)
}
