//go:build linux

package web

import (
	"net"
	"sort"
	"syscall"
)

func snapshotHost() HostSnapshot {
	out := HostSnapshot{LocalAddrs: localInterfaceAddrs()}
	var st syscall.Statfs_t
	if err := syscall.Statfs("/", &st); err == nil {
		out.RootAvailBytes = st.Bavail * uint64(st.Bsize)
	}
	return out
}

// localInterfaceAddrs lists the IPv4 addresses a client could use to reach
// the web and UDP outputs.
func localInterfaceAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]string, 0, 8)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, iface.Name+": "+ipnet.String())
		}
	}
	sort.Strings(out)
	return out
}
