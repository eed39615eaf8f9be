// Package netsetup creates the veth pair and bridge attachment a knot uses
// for a sandbox's optional bridged network mode, via vishvananda/netlink
// rather than shelling out to ip(8).
package netsetup

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/crypto/blake2b"

	"lithos/pkg/errs"
)

// Config describes one instance's bridged network attachment, sourced from
// SandboxConfig.Bridge plus the instance's assigned IP.
type Config struct {
	Bridge  string // host bridge name, e.g. "lithos0"
	IP      net.IP
	Prefix  int
	Gateway net.IP
}

// InterfaceName derives a deterministic, <=15 byte host-side veth name from
// the bridge name and assigned IP, so repeated setup/teardown cycles for
// the same instance reuse the same interface name instead of leaking
// incrementing counters across tree restarts. Kernel IFNAMSIZ is 16 bytes
// including the NUL terminator, so 15 visible characters is the hard cap.
func InterfaceName(bridge string, ip net.IP) (string, error) {
	h, err := blake2b.New(3, nil)
	if err != nil {
		return "", errs.New(errs.Network, "interface-name", "", err)
	}
	h.Write([]byte(bridge))
	h.Write(ip.To4())
	tag := fmt.Sprintf("%x", h.Sum(nil))

	v4 := ip.To4()
	var octets string
	if v4 != nil {
		octets = fmt.Sprintf("%02x%02x", v4[2], v4[3])
	}
	name := "veth" + tag + octets
	if len(name) > 15 {
		name = name[:15]
	}
	return name, nil
}

// Setup creates a veth pair in the calling network namespace, attaches the
// host-side end to cfg.Bridge and brings it up, and moves the
// container-side end into the network namespace of process pid. It does
// not assign an address; ConfigureInNamespace does that.
func Setup(cfg Config, pid int) (hostIfName string, err error) {
	hostIfName, err = InterfaceName(cfg.Bridge, cfg.IP)
	if err != nil {
		return "", err
	}
	peerName := "peer" + hostIfName[4:]

	br, err := netlink.LinkByName(cfg.Bridge)
	if err != nil {
		return "", errs.New(errs.Network, "setup", cfg.Bridge, fmt.Errorf("lookup bridge: %w", err))
	}

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostIfName},
		PeerName:  peerName,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return "", errs.New(errs.Network, "setup", hostIfName, fmt.Errorf("create veth: %w", err))
	}

	hostLink, err := netlink.LinkByName(hostIfName)
	if err != nil {
		return "", errs.New(errs.Network, "setup", hostIfName, err)
	}
	if err := netlink.LinkSetMaster(hostLink, br.(*netlink.Bridge)); err != nil {
		return "", errs.New(errs.Network, "setup", hostIfName, fmt.Errorf("attach to bridge: %w", err))
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		return "", errs.New(errs.Network, "setup", hostIfName, fmt.Errorf("set host link up: %w", err))
	}

	peerLink, err := netlink.LinkByName(peerName)
	if err != nil {
		return "", errs.New(errs.Network, "setup", peerName, err)
	}
	if err := netlink.LinkSetNsPid(peerLink, pid); err != nil {
		return "", errs.New(errs.Network, "setup", peerName, fmt.Errorf("move into netns: %w", err))
	}
	return hostIfName, nil
}

// ConfigureInNamespace runs inside the target network namespace (the knot
// calls this after the unshare+setns dance) to rename the peer interface,
// assign the address, and bring it up with a default route via Gateway.
func ConfigureInNamespace(peerName, containerIfName string, cfg Config) error {
	link, err := netlink.LinkByName(peerName)
	if err != nil {
		return errs.New(errs.Network, "configure", peerName, err)
	}
	if err := netlink.LinkSetName(link, containerIfName); err != nil {
		return errs.New(errs.Network, "configure", peerName, fmt.Errorf("rename: %w", err))
	}
	link, err = netlink.LinkByName(containerIfName)
	if err != nil {
		return errs.New(errs.Network, "configure", containerIfName, err)
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: cfg.IP, Mask: net.CIDRMask(cfg.Prefix, 32)}}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return errs.New(errs.Network, "configure", containerIfName, fmt.Errorf("assign address: %w", err))
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errs.New(errs.Network, "configure", containerIfName, fmt.Errorf("link up: %w", err))
	}
	if cfg.Gateway != nil {
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Gw: cfg.Gateway}
		if err := netlink.RouteAdd(route); err != nil {
			return errs.New(errs.Network, "configure", containerIfName, fmt.Errorf("add default route: %w", err))
		}
	}
	return nil
}

// Teardown removes the host-side veth, which takes its peer down with it.
func Teardown(hostIfName string) error {
	link, err := netlink.LinkByName(hostIfName)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return nil
		}
		return errs.New(errs.Network, "teardown", hostIfName, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return errs.New(errs.Network, "teardown", hostIfName, err)
	}
	return nil
}
