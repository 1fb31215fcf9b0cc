package mdns

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry(`gnssfifo\ on\ rpi`, ServiceType, Domain)
	e.HostName = "rpi.local."
	e.Port = 8080
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	e.Text = []string{"source=pipe:///tmp/GPSPIPE"}

	h := hostFromEntry(e)
	assert.Equal(t, "gnssfifo on rpi", h.Instance)
	assert.Equal(t, "rpi.local.", h.Hostname)
	assert.Equal(t, 8080, h.Port)
	assert.Len(t, h.Addresses, 2)
	assert.Equal(t, []string{"source=pipe:///tmp/GPSPIPE"}, h.TXT)

	e.Text[0] = "changed"
	assert.Equal(t, "source=pipe:///tmp/GPSPIPE", h.TXT[0], "TXT is copied")
}

func TestSortHosts(t *testing.T) {
	hosts := sortHosts(map[string]Host{
		"b|1": {Instance: "b", Port: 1},
		"a|2": {Instance: "a", Port: 2},
		"a|1": {Instance: "a", Port: 1},
	})
	require.Len(t, hosts, 3)
	assert.Equal(t, Host{Instance: "a", Port: 1}, hosts[0])
	assert.Equal(t, Host{Instance: "a", Port: 2}, hosts[1])
	assert.Equal(t, "b", hosts[2].Instance)
}

func TestPortFromAddr(t *testing.T) {
	port, err := PortFromAddr(":8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	port, err = PortFromAddr("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	for _, bad := range []string{"8080", ":0", ":http", ":70000"} {
		_, err := PortFromAddr(bad)
		assert.Error(t, err, bad)
	}
}
