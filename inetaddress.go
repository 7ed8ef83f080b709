// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ErrInvalidAddress is the error when an address is not a valid dotted-quad
// IPv4 address.
var ErrInvalidAddress = errors.New("invalid IPv4 address")

// InetAddress is an IPv4 endpoint. The zero value is 0.0.0.0:0.
type InetAddress struct {
	ip   [4]byte
	port uint16
}

// NewInetAddress parses a dotted-quad IPv4 address. An empty ip means
// INADDR_ANY.
func NewInetAddress(ip string, port uint16) (InetAddress, error) {
	addr := InetAddress{port: port}
	if ip == "" {
		return addr, nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return InetAddress{}, ErrInvalidAddress
	}
	v4 := parsed.To4()
	if v4 == nil {
		return InetAddress{}, ErrInvalidAddress
	}
	copy(addr.ip[:], v4)
	return addr, nil
}

// IP returns the address in dotted-quad form.
func (a InetAddress) IP() string {
	return net.IP(a.ip[:]).String()
}

// Port returns the port in host byte order.
func (a InetAddress) Port() uint16 {
	return a.port
}

// String returns "ip:port".
func (a InetAddress) String() string {
	return fmt.Sprintf("%s:%d", a.IP(), a.port)
}

func (a InetAddress) sockaddr() *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: int(a.port)}
	sa.Addr = a.ip
	return sa
}

func inetAddressFromSockaddr(sa unix.Sockaddr) InetAddress {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return InetAddress{ip: sa4.Addr, port: uint16(sa4.Port)}
	}
	return InetAddress{}
}

// hostToNetwork16 converts a 16-bit integer from host to network byte
// order.
func hostToNetwork16(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

func networkToHost16(v uint16) uint16 {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], v)
	return binary.BigEndian.Uint16(b[:])
}

func hostToNetwork32(v uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return binary.NativeEndian.Uint32(b[:])
}

func networkToHost32(v uint32) uint32 {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], v)
	return binary.BigEndian.Uint32(b[:])
}
