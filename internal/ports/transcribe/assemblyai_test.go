package transcribe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe_MissingAPIKey(t *testing.T) {
	a := NewAssemblyAIAdapter("")
	_, err := a.Transcribe(context.Background(), make([]byte, 44))
	assert.Error(t, err)
}

func TestPCMFromWAV_StripsHeader(t *testing.T) {
	wav := make([]byte, 44+10)
	for i := 44; i < len(wav); i++ {
		wav[i] = byte(i)
	}
	pcm, err := pcmFromWAV(wav)
	require.NoError(t, err)
	assert.Len(t, pcm, 10)
	assert.Equal(t, byte(44), pcm[0])
}

func TestPCMFromWAV_TooShort(t *testing.T) {
	_, err := pcmFromWAV(make([]byte, 10))
	assert.Error(t, err)
}
