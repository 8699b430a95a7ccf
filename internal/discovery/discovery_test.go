package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
)

func TestFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  Service
		ok    bool
	}{
		{
			name: "txt overrides defaults",
			entry: &mdns.ServiceEntry{
				Name:       "rig-1._neurostream._tcp.local.",
				AddrV4:     net.ParseIP("10.0.0.7"),
				Port:       5558,
				InfoFields: []string{"heartbeat=5559", "revision=legacy"},
			},
			want: Service{Instance: "rig-1._neurostream._tcp.local.", Address: "10.0.0.7", DataPort: 5558, HeartbeatPort: 5559, Revision: "legacy"},
			ok:   true,
		},
		{
			name:  "defaults without txt",
			entry: &mdns.ServiceEntry{Name: "rig-2", AddrV4: net.ParseIP("10.0.0.8"), Port: 5556},
			want:  Service{Instance: "rig-2", Address: "10.0.0.8", DataPort: 5556, HeartbeatPort: 5557, Revision: "stream"},
			ok:    true,
		},
		{
			name:  "ipv6 only",
			entry: &mdns.ServiceEntry{Name: "rig-3", AddrV6: net.ParseIP("fe80::1"), Port: 5556, InfoFields: []string{"heartbeat=x"}},
			want:  Service{Instance: "rig-3", Address: "fe80::1", DataPort: 5556, HeartbeatPort: 5557, Revision: "stream"},
			ok:    true,
		},
		{name: "no address", entry: &mdns.ServiceEntry{Name: "rig-4", Port: 1}},
		{name: "nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := fromEntry(tt.entry)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
