package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBW_MarshalParse(t *testing.T) {
	in := CommandBlockWrapper{
		Tag:                0xDEADBEEF,
		DataTransferLength: 4096,
		Flags:              CBWFlagDataIn,
		CBLength:           10,
	}
	copy(in.CB[:], rw10(SCSIRead10, 0x1234, 8))

	var buf [CBWSize]byte
	require.Equal(t, CBWSize, in.MarshalTo(buf[:]))
	assert.Equal(t, []byte("USBC"), buf[0:4])

	var out CommandBlockWrapper
	require.True(t, ParseCBW(buf[:], &out))
	assert.Equal(t, in.Tag, out.Tag)
	assert.Equal(t, in.DataTransferLength, out.DataTransferLength)
	assert.True(t, out.IsDataIn())
	assert.Equal(t, uint32(0x1234), parseU32BE(out.CB[:], 2))
	assert.Equal(t, uint16(8), parseU16BE(out.CB[:], 7))

	buf[0] = 'X'
	assert.False(t, ParseCBW(buf[:], &out))
	assert.False(t, ParseCBW(buf[:10], &out))
}

func TestCSW_MarshalParse(t *testing.T) {
	var buf [CSWSize]byte
	require.Equal(t, CSWSize, NewCSW(7, 512, CSWStatusFailed).MarshalTo(buf[:]))
	assert.Equal(t, []byte("USBS"), buf[0:4])

	var csw CommandStatusWrapper
	require.True(t, ParseCSW(buf[:], &csw))
	assert.Equal(t, uint32(7), csw.Tag)
	assert.Equal(t, uint32(512), csw.DataResidue)
	assert.Equal(t, uint8(CSWStatusFailed), csw.Status)

	assert.False(t, ParseCSW(append(buf[:], 0), &csw))
}

func TestSense_MarshalParse(t *testing.T) {
	var buf [senseSize]byte
	in := Sense{Key: SenseIllegalRequest, ASC: ASCInvalidCommand}
	require.Equal(t, senseSize, in.MarshalTo(buf[:]))
	assert.Equal(t, byte(0x70), buf[0])
	assert.Equal(t, byte(10), buf[7])

	out, ok := ParseSense(buf[:])
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestFormatCapacities(t *testing.T) {
	var buf [12]byte
	require.Equal(t, 12, formatCapacities(buf[:], 2048, 512))
	assert.Equal(t, []byte{0, 0, 0, 8, 0, 0, 0x08, 0x00, 0x02, 0x00, 0x02, 0x00}, buf[:])
}
