// Package iputils reports the machine's LAN addresses, used to build the
// console URL shown in the UI and to derive stable MQTT client identifiers.
package iputils

import (
	"errors"
	"net"
)

// LocalIPv4Addresses returns the machine's usable IPv4 addresses, skipping
// loopback, link-local, and interfaces that are down.
func LocalIPv4Addresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var addresses []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP == nil {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			addresses = append(addresses, ip.String())
		}
	}
	return addresses, nil
}

// PrimaryIPv4 returns the address most likely to reach this machine from
// another device on the network.
func PrimaryIPv4() (string, error) {
	addresses, err := LocalIPv4Addresses()
	if err != nil {
		return "", err
	}
	if len(addresses) == 0 {
		return "", errors.New("no usable IPv4 address found")
	}
	return addresses[0], nil
}
