package clustermembers

import (
	"fmt"
	"net"
	"strconv"
)

// OutboundIP discovers this host's outbound IP address by dialing a UDP
// socket (no packet is actually sent) and reading the local address the
// kernel would route through — the same UDP-dial trick as the teacher's
// net.go GetOutBoundIP, used here to build a self-advertised roster address
// without requiring an explicit --advertise-addr flag. Unlike GetOutBoundIP
// this parses the local address with net.SplitHostPort rather than
// strings.Split(":"), so it doesn't mis-split an IPv6 address's own colons,
// and wraps failures with context instead of returning the bare dial error.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:53")
	if err != nil {
		return "", fmt.Errorf("clustermembers: detect outbound IP: %w", err)
	}
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", fmt.Errorf("clustermembers: parse outbound address: %w", err)
	}
	return host, nil
}

// SelfAddr builds the "host:port" this instance should register in the
// roster: the detected outbound IP paired with the gRPC listen port.
func SelfAddr(port int) (string, error) {
	ip, err := OutboundIP()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip, strconv.Itoa(port)), nil
}
