package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecs_CompressRepetitiveContent(t *testing.T) {
	content := bytes.Repeat([]byte(`{"role":"assistant","text":"continuity"},`), 200)

	for level := 1; level <= MaxCompressionLevel; level++ {
		codec, err := CodecForLevel(level)
		require.NoError(t, err)

		encoded, err := codec.Encode(content)
		require.NoError(t, err)
		assert.Less(t, len(encoded), len(content), "level %d should shrink content", level)

		byName, err := CodecByName(codec.Name())
		require.NoError(t, err)
		decoded, err := byName.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, content, decoded)
	}
}

func TestCodecByName_Unknown(t *testing.T) {
	_, err := CodecByName("lz4")
	assert.Error(t, err)
}
