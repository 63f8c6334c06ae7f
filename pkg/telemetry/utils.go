// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package telemetry

import (
	"log"
	"math/rand"
	"net"
	"time"
)

func jitter(t time.Duration) time.Duration {
	nanos := rand.NormFloat64()*float64(t/4) + float64(t)
	if nanos <= 0 {
		nanos = 1
	}
	return time.Duration(nanos)
}

// DefaultInstanceID returns the first non-nil mac address if possible,
// "unknown" otherwise.
func DefaultInstanceID() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Printf("failed to determine default instance id: %v", err)
		return "unknown"
	}
	for _, iface := range ifaces {
		if iface.HardwareAddr != nil {
			return iface.HardwareAddr.String()
		}
	}
	return "unknown"
}
