package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextMessageRoundTrip(t *testing.T) {
	sent := time.Now()
	msg, err := NewMessage(MessageTypeText, TextPayload{
		Sender: "ana", Body: "¿cómo se dice?", SentAt: sent,
	})
	require.NoError(t, err)

	data, err := msg.Encode()
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, MessageTypeText, got.Type)

	var text TextPayload
	require.NoError(t, got.DecodePayload(&text))
	assert.Equal(t, "ana", text.Sender)
	assert.Equal(t, "¿cómo se dice?", text.Body)
	assert.True(t, sent.Equal(text.SentAt))
}

func TestHelloCarriesIdentity(t *testing.T) {
	msg, err := NewMessage(MessageTypeHello, HelloPayload{UserID: "ben", Version: "v0.3.0"})
	require.NoError(t, err)

	data, err := msg.Encode()
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, MessageTypeHello, got.Type)

	var hello HelloPayload
	require.NoError(t, got.DecodePayload(&hello))
	assert.Equal(t, "ben", hello.UserID)
	assert.Equal(t, "v0.3.0", hello.Version)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte{0xc1})
	assert.Error(t, err)
}
