package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known vector from RFC 3720 (iSCSI): 32 bytes of zeros.
	assert.Equal(t, uint32(0x8a9136aa), CRC32C(make([]byte, 32)))

	h := NewCRC32C()
	_, _ = h.Write([]byte("hello "))
	_, _ = h.Write([]byte("world"))
	assert.Equal(t, CRC32C([]byte("hello world")), h.Sum32())

	assert.True(t, VerifyCRC32C([]byte("abc"), CRC32C([]byte("abc"))))
	assert.False(t, VerifyCRC32C([]byte("abd"), CRC32C([]byte("abc"))))
	assert.Len(t, CRC32CBase64([]byte("abc")), 8)
}
