// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteOrderRoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x1234, 0xffff} {
		assert.Equal(t, v, networkToHost16(hostToNetwork16(v)))
		assert.Equal(t, v, hostToNetwork16(networkToHost16(v)))
	}
	for _, v := range []uint32{0, 1, 0x12345678, 0xffffffff} {
		assert.Equal(t, v, networkToHost32(hostToNetwork32(v)))
		assert.Equal(t, v, hostToNetwork32(networkToHost32(v)))
	}
}

func TestInetAddressParse(t *testing.T) {
	addr, err := NewInetAddress("127.0.0.1", 9981)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.IP())
	assert.Equal(t, uint16(9981), addr.Port())
	assert.Equal(t, "127.0.0.1:9981", addr.String())

	// Idempotent on valid dotted-quad input.
	again, err := NewInetAddress(addr.IP(), addr.Port())
	require.NoError(t, err)
	assert.Equal(t, addr, again)
}

func TestInetAddressAny(t *testing.T) {
	addr, err := NewInetAddress("", 80)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", addr.IP())
}

func TestInetAddressInvalid(t *testing.T) {
	_, err := NewInetAddress("256.1.2.3", 80)
	assert.Equal(t, ErrInvalidAddress, err)
	_, err = NewInetAddress("::1", 80)
	assert.Equal(t, ErrInvalidAddress, err)
	_, err = NewInetAddress("nonsense", 80)
	assert.Equal(t, ErrInvalidAddress, err)
}

func TestInetAddressSockaddr(t *testing.T) {
	addr, err := NewInetAddress("10.1.2.3", 4567)
	require.NoError(t, err)
	sa := addr.sockaddr()
	assert.Equal(t, [4]byte{10, 1, 2, 3}, sa.Addr)
	assert.Equal(t, 4567, sa.Port)
	assert.Equal(t, addr, inetAddressFromSockaddr(sa))
}
