package net

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// FindAvailablePort returns the first port of [start, end] that host lets us
// listen on. The probe listener is closed before returning, so another
// process may still grab the port in between.
func FindAvailablePort(host string, start, end int) (int, error) {
	if start <= 0 || end < start || end > 65535 {
		return 0, errors.Errorf("invalid port range %d-%d", start, end)
	}

	for port := start; port <= end; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}

	return 0, errors.Errorf("no available port in range %d-%d", start, end)
}

// PortRangeAddrs crosses hosts with the ports of [start, end]. It is the
// candidate space of discovery.
func PortRangeAddrs(hosts []string, start, end int) []string {
	res := []string{}
	if start <= 0 || end < start {
		return res
	}
	for _, h := range hosts {
		for port := start; port <= end; port++ {
			res = append(res, net.JoinHostPort(h, strconv.Itoa(port)))
		}
	}
	return res
}
