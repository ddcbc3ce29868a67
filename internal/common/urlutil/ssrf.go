// Package urlutil guards destination URLs. Short links are an open
// redirector by construction, so destinations pointing into private or
// reserved address space are rejected at create time.
package urlutil

import (
	"fmt"
	"net"
)

// privateRanges holds the private and reserved IP ranges a destination
// host must not resolve into.
var privateRanges []*net.IPNet

func init() {
	cidrs := []string{
		// IPv4
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"169.254.0.0/16", // link-local
		"100.64.0.0/10",  // CGNAT (RFC 6598)
		"0.0.0.0/8",      // "this" network
		"224.0.0.0/4",    // multicast

		// IPv6
		"::1/128",   // loopback
		"fe80::/10", // link-local
		"fc00::/7",  // unique local
		"ff00::/8",  // multicast
	}

	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in private ranges: %s", cidr))
		}
		privateRanges = append(privateRanges, ipNet)
	}
}

// IsPrivateIP returns true if the given IP belongs to a private or reserved range.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	for _, ipNet := range privateRanges {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateHostNotPrivateIP rejects hostnames that are private IP literals.
// It does NOT perform DNS resolution: domain names pass through, only
// addresses that parse directly into a private range are refused.
func ValidateHostNotPrivateIP(hostname string) error {
	ip := net.ParseIP(hostname)
	if ip == nil {
		// Not an IP literal (could be a domain name); allow it through
		return nil
	}

	if IsPrivateIP(ip) {
		return fmt.Errorf("destination host is a private/reserved IP address: %s", hostname)
	}
	return nil
}
