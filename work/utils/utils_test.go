package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "http://example.com/***?***",
		ObfuscateURL("http://example.com/live/user/pass/1.m3u8?token=abc"))
	assert.Equal(t, "http://example.com",
		ObfuscateURL("http://example.com"))
	assert.Equal(t, "", ObfuscateURL(""))
	assert.Equal(t, "***OBFUSCATED***", ObfuscateURL("http://%zz"))
}

func TestLogURL(t *testing.T) {
	raw := "http://example.com/live/u/p/1.m3u8"
	assert.Equal(t, raw, LogURL(false, raw))
	assert.Equal(t, "http://example.com/***", LogURL(true, raw))
}

func TestObfuscatePath(t *testing.T) {
	assert.Equal(t, "/live/***", ObfuscatePath("/live/u/p/1.m3u8"))
	assert.Equal(t, "/playlist.m3u8", ObfuscatePath("/playlist.m3u8"))
	assert.Equal(t, "/", ObfuscatePath("/"))
	assert.Equal(t, "", ObfuscatePath(""))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 MB", FormatBytes(3*1024*1024/2))
	assert.Equal(t, "2.0 GB", FormatBytes(2*1024*1024*1024))
}
