package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_SingleEnvelope(t *testing.T) {
	input := `{"kind":"login","sender":"alice","payload":"hunter22"}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindLogin, env.Kind)
	assert.Equal(t, "alice", env.Sender)
	assert.Equal(t, "hunter22", env.Payload)
}

func TestDecoder_MultipleFramesSequentially(t *testing.T) {
	input := `{"kind":"help"}` + "\n" + `{"kind":"quit","sender":"bob"}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	first, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindHelp, first.Kind)

	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindQuit, second.Kind)
	assert.Equal(t, "bob", second.Sender)
}

func TestDecoder_CRLFAndBlankLines(t *testing.T) {
	input := "\r\n" + `{"kind":"help"}` + "\r\n\n" + `{"kind":"quit"}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindHelp, env.Kind)

	env, err = dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindQuit, env.Kind)
}

func TestDecoder_MalformedJSONIsProtocolError(t *testing.T) {
	input := "{not json}\n" + `{"kind":"help"}` + "\n"
	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Decode()
	require.Error(t, err)
	assert.True(t, IsProtocolError(err), "malformed JSON must be a protocol error")

	// The stream must remain readable after a malformed frame.
	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindHelp, env.Kind)
}

func TestDecoder_MissingKindIsProtocolError(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"payload":"hi"}` + "\n"))
	_, err := dec.Decode()
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestDecoder_OversizedFrame(t *testing.T) {
	huge := `{"kind":"broadcast","payload":"` + strings.Repeat("a", MaxFrameSize) + `"}` + "\n"
	dec := NewDecoder(strings.NewReader(huge + `{"kind":"help"}` + "\n"))

	_, err := dec.Decode()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.True(t, IsProtocolError(err))

	// The oversized frame is drained; the next frame decodes normally.
	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindHelp, env.Kind)
}

func TestDecoder_UnterminatedFinalFrame(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"kind":"quit"}`))
	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, KindQuit, env.Kind)
}

func TestEncodeDecode_RoundTripWithAux(t *testing.T) {
	env, err := NewEnvelope(KindGameBoard, "alice", "bob", "your move").
		WithAux(map[string]any{"cell": 5})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(env))
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))

	decoded, err := NewDecoder(&buf).Decode()
	require.NoError(t, err)
	assert.Equal(t, env.Kind, decoded.Kind)
	assert.Equal(t, env.Sender, decoded.Sender)

	var aux struct {
		Cell int `json:"cell"`
	}
	require.NoError(t, decoded.DecodeAux(&aux))
	assert.Equal(t, 5, aux.Cell)
}

func TestEncoder_RejectsOversizedEnvelope(t *testing.T) {
	env := NewEnvelope(KindBroadcast, "a", "", strings.Repeat("x", MaxFrameSize))
	err := NewEncoder(&bytes.Buffer{}).Encode(env)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestKnownClientKind(t *testing.T) {
	assert.True(t, KnownClientKind(KindLogin))
	assert.True(t, KnownClientKind(KindGameMove))
	assert.False(t, KnownClientKind(KindLoggedIn), "server kinds are not client requests")
	assert.False(t, KnownClientKind(Kind("bogus")))
}

func TestUnmarshal_SingleFrame(t *testing.T) {
	env, err := Unmarshal([]byte(`{"kind":"broadcast","sender":"alice","payload":"hi all"}`))
	require.NoError(t, err)
	assert.Equal(t, KindBroadcast, env.Kind)

	_, err = Unmarshal([]byte(`{`))
	assert.True(t, IsProtocolError(err))
}
