package runtimeconfig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"meshnode"
)

func (c Config) render() string {
	var b strings.Builder

	b.WriteString("[reticulum]\n")
	fmt.Fprintf(&b, "  enable_transport = %s\n", yesNo(c.transport))
	fmt.Fprintf(&b, "  share_instance = %s\n", yesNo(c.share))
	if c.rpcKey != "" {
		fmt.Fprintf(&b, "  rpc_key = %s\n", c.rpcKey)
	}

	b.WriteString("\n[logging]\n")
	fmt.Fprintf(&b, "  loglevel = %d\n", c.logLevel)

	b.WriteString("\n[interfaces]\n")
	for _, s := range c.sections {
		fmt.Fprintf(&b, "\n  [[%s]]\n", s.Name)
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "    %s = %s\n", e.Key, e.Value)
		}
	}
	return b.String()
}

// interfaceEntries returns the key = value lines for one enabled interface.
func interfaceEntries(iface meshnode.InterfaceConfig) ([]Entry, error) {
	entries := []Entry{
		{"type", string(iface.Kind)},
		{"enabled", "yes"},
	}

	var (
		kind []Entry
		err  error
	)
	switch iface.Kind {
	case meshnode.AutoInterface:
		kind = autoEntries(iface)
	case meshnode.TCPClientInterface:
		kind, err = tcpClientEntries(iface)
	case meshnode.TCPServerInterface:
		kind, err = tcpServerEntries(iface)
	case meshnode.UDPInterface:
		kind, err = udpEntries(iface)
	case meshnode.RNodeInterface:
		kind, err = rnodeEntries(iface)
	case meshnode.AndroidBLEInterface:
		kind, err = bleEntries(iface)
	default:
		return nil, fmt.Errorf("unknown interface type %q", iface.Kind)
	}
	if err != nil {
		return nil, err
	}
	entries = append(entries, kind...)

	if mode := iface.Mode; mode != "" && mode != meshnode.ModeFull {
		entries = append(entries, Entry{"interface_mode", clean(string(mode))})
	}
	return entries, nil
}

func autoEntries(iface meshnode.InterfaceConfig) []Entry {
	var out []Entry
	if v := clean(iface.GroupID); v != "" {
		out = append(out, Entry{"group_id", v})
	}
	if v := clean(iface.DiscoveryScope); v != "" {
		out = append(out, Entry{"discovery_scope", v})
	}
	return out
}

func tcpClientEntries(iface meshnode.InterfaceConfig) ([]Entry, error) {
	port, err := portOr(iface.TargetPort, defaultPort, "target_port")
	if err != nil {
		return nil, err
	}
	return []Entry{
		{"target_host", orDefault(clean(iface.TargetHost), defaultTargetHost)},
		{"target_port", strconv.Itoa(port)},
	}, nil
}

func tcpServerEntries(iface meshnode.InterfaceConfig) ([]Entry, error) {
	port, err := portOr(iface.ListenPort, defaultPort, "listen_port")
	if err != nil {
		return nil, err
	}
	return []Entry{
		{"listen_ip", orDefault(clean(iface.ListenIP), defaultListenIP)},
		{"listen_port", strconv.Itoa(port)},
	}, nil
}

func udpEntries(iface meshnode.InterfaceConfig) ([]Entry, error) {
	listen, err := portOr(iface.ListenPort, defaultPort, "listen_port")
	if err != nil {
		return nil, err
	}
	forward, err := portOr(iface.ForwardPort, listen, "forward_port")
	if err != nil {
		return nil, err
	}
	return []Entry{
		{"listen_ip", orDefault(clean(iface.ListenIP), defaultListenIP)},
		{"listen_port", strconv.Itoa(listen)},
		{"forward_ip", orDefault(clean(iface.ForwardIP), defaultForwardIP)},
		{"forward_port", strconv.Itoa(forward)},
	}, nil
}

func rnodeEntries(iface meshnode.InterfaceConfig) ([]Entry, error) {
	var out []Entry
	switch iface.ConnectionMode {
	case meshnode.RNodeTCP:
		host := clean(iface.TCPHost)
		if host == "" {
			return nil, errors.New("tcp_host is empty")
		}
		out = append(out, Entry{"tcp_host", host})
	case meshnode.RNodeBluetooth:
		name := clean(iface.DeviceName)
		if name == "" {
			return nil, errors.New("device_name is empty")
		}
		out = append(out, Entry{"port", blePortPrefix + name})
	case meshnode.RNodeSerial, "":
		port := clean(iface.SerialPort)
		if port == "" {
			return nil, errors.New("port is empty")
		}
		out = append(out, Entry{"port", port})
	default:
		return nil, fmt.Errorf("unknown rnode connection mode %q", iface.ConnectionMode)
	}

	if iface.Frequency <= 0 {
		return nil, errors.New("frequency must be positive")
	}
	if iface.Bandwidth <= 0 {
		return nil, errors.New("bandwidth must be positive")
	}
	out = append(out,
		Entry{"frequency", strconv.FormatInt(iface.Frequency, 10)},
		Entry{"bandwidth", strconv.FormatInt(iface.Bandwidth, 10)},
		Entry{"txpower", strconv.Itoa(iface.TxPower)},
		Entry{"spreadingfactor", strconv.Itoa(iface.SpreadingFactor)},
		Entry{"codingrate", strconv.Itoa(iface.CodingRate)},
	)
	if iface.STALock != nil {
		out = append(out, Entry{"airtime_limit_short", formatFloat(*iface.STALock)})
	}
	if iface.LTALock != nil {
		out = append(out, Entry{"airtime_limit_long", formatFloat(*iface.LTALock)})
	}
	return out, nil
}

func bleEntries(iface meshnode.InterfaceConfig) ([]Entry, error) {
	maxConns := iface.MaxConnections
	if maxConns < 0 {
		return nil, fmt.Errorf("max_connections %d is negative", maxConns)
	}
	if maxConns == 0 {
		maxConns = defaultBLEMaxConns
	}
	var out []Entry
	if v := clean(iface.DeviceName); v != "" {
		out = append(out, Entry{"device_name", v})
	}
	return append(out, Entry{"max_connections", strconv.Itoa(maxConns)}), nil
}

func portOr(port, fallback int, key string) (int, error) {
	switch {
	case port == 0:
		return fallback, nil
	case port < 0 || port > maxPort:
		return 0, fmt.Errorf("%s %d out of range", key, port)
	default:
		return port, nil
	}
}

// clean trims s and drops line breaks so a value cannot open a new key.
func clean(s string) string {
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	return strings.TrimSpace(s)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
