package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentID(t *testing.T) {
	id := ComputeID([]byte("record"))

	parsed, err := NewContentIDFromHex(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	parsed, err = NewContentIDFromHex("0x" + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = NewContentIDFromHex("abcd")
	require.Error(t, err)
	_, err = NewContentIDFromHex("zz")
	require.Error(t, err)
}

func TestStorageBackendLocation(t *testing.T) {
	loc, err := NewStorageBackendLocation("s3://AKID:SECRET@bucket/prefix/?region=eu-central-1&path_style=yes")
	require.NoError(t, err)
	assert.Equal(t, SchemeS3, loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "AKID:SECRET", loc.Auth)
	assert.Equal(t, "eu-central-1", loc.GetParam("region"))
	assert.True(t, loc.GetParamBool("path_style"))
	assert.False(t, loc.GetParamBool("missing"))
	assert.NotContains(t, loc.String(), "SECRET")

	loc, err = NewStorageBackendLocation("file:///var/lib/provisioning")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/provisioning", loc.Path)
	assert.Equal(t, "file:///var/lib/provisioning", loc.String())

	_, err = NewStorageBackendLocation("ftp://example.com/x")
	require.Error(t, err)
	_, err = NewStorageBackendLocation("vault:///secret")
	require.Error(t, err)
}

func TestProbeTarget(t *testing.T) {
	assert.True(t, ProbeTarget{Serial: " "}.IsZero())
	assert.Equal(t, "440012345", ProbeTarget{Serial: "440012345"}.String())
	assert.Equal(t, "10.0.0.7", ProbeTarget{Host: "10.0.0.7"}.String())
	assert.Equal(t, "440012345@10.0.0.7", ProbeTarget{Serial: "440012345", Host: "10.0.0.7"}.String())
	assert.Equal(t, DeviceSerial("000B57FFFE123456"), NewDeviceSerial([]byte{0x00, 0x0b, 0x57, 0xff, 0xfe, 0x12, 0x34, 0x56}))
}
