package emailsvc

import (
	"bytes"
	"log"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fieldops/core"
)

func TestConsoleService(t *testing.T) {
	conf := core.NewTestConfig()
	var out bytes.Buffer
	svc := NewConsoleService(conf, log.New(&out, "", 0), core.NopLogger{})
	svc.sync = true

	msg := &core.EmailMessage{
		To:      []mail.Address{{Name: "Ann", Address: "ann@example.com"}},
		Subject: "Hello",
		BodyStr: "plain body",
	}
	require.NoError(t, msg.Attach(strings.NewReader("report"), "report.txt", "text/plain"))
	svc.SendMessages(msg, &core.EmailMessage{Subject: "no recipients", BodyStr: "x"})

	sent := svc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hello", sent[0].Subject)

	printed := out.String()
	assert.Contains(t, printed, "Subject: [FieldOps] Hello")
	assert.Contains(t, printed, `To: "Ann" <ann@example.com>`)
	assert.Contains(t, printed, "multipart/mixed")
	assert.Contains(t, printed, "plain body")
	assert.Contains(t, printed, "filename=report.txt")

	svc.Reset()
	assert.Empty(t, svc.Sent())
}

func TestSendgridPrepare(t *testing.T) {
	svc := NewSendgridService(core.NewTestConfig(), core.NopLogger{})
	m := svc.prepare(core.EmailMessage{
		To:          []mail.Address{{Name: "Ann", Address: "ann@example.com"}},
		Cc:          []mail.Address{{Address: "boss@example.com"}},
		Subject:     "Reminder",
		TextContent: "text",
	})

	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[FieldOps] Reminder", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "ann@example.com", p.To[0].Address)
	require.Len(t, p.CC, 1)
	assert.Empty(t, p.BCC)
	require.Len(t, m.Content, 1, "no html part without html content")
	assert.Equal(t, "text/plain", m.Content[0].Type)
}
