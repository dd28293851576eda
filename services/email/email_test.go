package emailsvc

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/tests"
)

func resetMessage() *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Address: "t1@school.test"}},
		Subject:      "รีเซ็ตรหัสผ่าน",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":     "t1@school.test",
			"Email":    "t1@school.test",
			"Token":    "tok",
			"Link":     "http://frontend.test/reset-password?token=tok",
			"ValidFor": "1h0m0s",
		},
	}
}

func TestConsoleServiceMock(t *testing.T) {
	ResetSent()
	svc := NewConsoleServiceMock(testutil.Config())

	svc.SendMessages(
		resetMessage(),
		&core.EmailMessage{Subject: "no recipients", BodyStr: "x"},
		&core.EmailMessage{To: []mail.Address{{Address: "a@school.test"}}, BodyStr: "plain"},
	)

	sent := Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].TextContent, "http://frontend.test/reset-password?token=tok")
	assert.Contains(t, sent[0].TextContent, "PHQ Care")
	assert.NotEmpty(t, sent[0].HTMLContent)
	assert.Equal(t, "plain", sent[1].TextContent)
	assert.Empty(t, sent[1].HTMLContent)

	ResetSent()
	assert.Empty(t, Sent())
}

func TestSendgridService_Prepare(t *testing.T) {
	conf := testutil.Config()
	svc := NewSendgridService(conf, &testutil.Logger{}).(*sendgridService)

	msg := resetMessage()
	msg.Cc = []mail.Address{{Name: "ผอ.", Address: "boss@school.test"}}
	require.NoError(t, msg.Render(conf))

	m := svc.prepare(*msg)
	assert.Equal(t, "noreply@phqcare.test", m.From.Address)
	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[PHQ Care] รีเซ็ตรหัสผ่าน", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "t1@school.test", p.To[0].Address)
	require.Len(t, p.CC, 1)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "text/html", m.Content[1].Type)
	assert.Equal(t, []string{"password_reset"}, m.Categories)
	require.NotNil(t, m.MailSettings)
	require.NotNil(t, m.MailSettings.SandboxMode)
	assert.True(t, *m.MailSettings.SandboxMode.Enable)
}

func TestConsoleService_Logs(t *testing.T) {
	ResetSent()
	logger := &testutil.Logger{}
	svc := NewConsoleService(testutil.Config(), logger).(*consoleService)

	svc.sendMessage(resetMessage())
	require.Len(t, Sent(), 1)
	assert.Equal(t, 1, logger.Count())

	// unknown template: nothing to send
	svc.sendMessage(&core.EmailMessage{To: []mail.Address{{Address: "a@school.test"}}, TemplateName: "nope"})
	assert.Len(t, Sent(), 1)
	assert.Equal(t, 1, logger.Count())
	ResetSent()
}
