// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package telemetry

import (
	"net"
)

// Server receives telemetry packets on a UDP socket.
type Server struct {
	conn *net.UDPConn
}

// Listen opens a UDP socket on addr.
func Listen(addr string) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Server{conn: conn}, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.conn.LocalAddr().String()
}

// Next reads the next packet, blocking until one arrives.
func (s *Server) Next() ([]byte, error) {
	buf := make([]byte, 10*1024)
	n, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Close stops listening.
func (s *Server) Close() error {
	return s.conn.Close()
}
