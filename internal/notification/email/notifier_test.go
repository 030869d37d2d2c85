package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func capture(n *Notifier, out *[]sent, err error) {
	n.send = func(_ context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		*out = append(*out, sent{addr: addr, auth: auth, from: from, to: to, msg: string(msg)})
		return err
	}
}

func TestNew_Defaults(t *testing.T) {
	n := New(Settings{}, zerolog.Nop())
	assert.Equal(t, 587, n.settings.Port)
	assert.Equal(t, EncryptionStartTLS, n.settings.Encryption)
	assert.Equal(t, "email", n.Name())

	n = New(Settings{Port: 465}, zerolog.Nop())
	assert.Equal(t, EncryptionTLS, n.settings.Encryption)

	n = New(Settings{Port: 25, Encryption: EncryptionNone}, zerolog.Nop())
	assert.Equal(t, EncryptionNone, n.settings.Encryption)
}

func TestSend_PlainText(t *testing.T) {
	n := New(Settings{
		Server:   "smtp.example.com",
		Port:     587,
		Username: "user",
		Password: "pass",
		From:     "machinarr@example.com",
		To:       "a@example.com, b@example.com",
	}, zerolog.Nop())
	var out []sent
	capture(n, &out, nil)

	require.NoError(t, n.Send(context.Background(), "3 new finds", "Movie (2001)\nShow - S01E02"))
	require.Len(t, out, 1)

	s := out[0]
	assert.Equal(t, "smtp.example.com:587", s.addr)
	assert.NotNil(t, s.auth)
	assert.Equal(t, "machinarr@example.com", s.from)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, s.to)
	assert.Contains(t, s.msg, "Subject: [Machinarr] 3 new finds\r\n")
	assert.Contains(t, s.msg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, s.msg, "Content-Type: text/plain; charset=utf-8")
	assert.True(t, strings.HasSuffix(s.msg, "Movie (2001)\nShow - S01E02"))
}

func TestSend_HTMLEscapes(t *testing.T) {
	n := New(Settings{Server: "smtp", To: "a@example.com", UseHTML: true}, zerolog.Nop())
	var out []sent
	capture(n, &out, nil)

	require.NoError(t, n.Send(context.Background(), "x", "<b>Tom & Jerry</b>\nline"))
	require.Len(t, out, 1)
	assert.Nil(t, out[0].auth)
	assert.Contains(t, out[0].msg, "text/html")
	assert.Contains(t, out[0].msg, "&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;<br>line")
}

func TestSend_NoRecipients(t *testing.T) {
	n := New(Settings{Server: "smtp", To: " , "}, zerolog.Nop())
	var out []sent
	capture(n, &out, nil)
	assert.ErrorIs(t, n.Send(context.Background(), "x", "y"), ErrNoRecipients)
	assert.Empty(t, out)
}

func TestSend_TransportError(t *testing.T) {
	n := New(Settings{Server: "smtp", To: "a@example.com"}, zerolog.Nop())
	var out []sent
	boom := errors.New("connection refused")
	capture(n, &out, boom)
	assert.ErrorIs(t, n.Send(context.Background(), "x", "y"), boom)
}

func TestParseAddresses(t *testing.T) {
	assert.Nil(t, parseAddresses(""))
	assert.Equal(t, []string{"a", "b"}, parseAddresses(" a ,, b "))
}
