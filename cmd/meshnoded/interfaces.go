package main

import (
	"fmt"
	"strconv"

	"meshnode"
	"meshnode/cmd/meshnoded/ui"
	"meshnode/config"

	"github.com/spf13/cobra"
)

func interfacesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "interfaces",
		Aliases: []string{"iface"},
		Short:   "List and toggle configured interfaces",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if len(f.Interfaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.Muted("no interfaces configured in "+g.configPath))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.Table(
				[]string{"NAME", "TYPE", "ENABLED", "MODE", "ENDPOINT"},
				interfaceRows(f.Interfaces),
			))
			return nil
		},
	}

	cmd.AddCommand(toggleCmd(g, "enable", true))
	cmd.AddCommand(toggleCmd(g, "disable", false))
	cmd.AddCommand(&cobra.Command{
		Use:   "remove NAME",
		Short: "Remove an interface from the node file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editConfig(g.configPath, func(f *config.File) error { return f.Remove(args[0]) }, func() {
				fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("removed %s", args[0]))
			})
		},
	})
	return cmd
}

func toggleCmd(g *globals, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " NAME",
		Short: "Mark an interface as " + verb + "d",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return editConfig(g.configPath, func(f *config.File) error {
				for i := range f.Interfaces {
					if f.Interfaces[i].Name == name {
						f.Interfaces[i].Enabled = enabled
						return nil
					}
				}
				return fmt.Errorf("interface %q not found", name)
			}, func() {
				fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("%sd %s", verb, name))
			})
		},
	}
}

// editConfig loads the node file, applies edit and saves it. A running node
// picks the change up from the file.
func editConfig(path string, edit func(*config.File) error, done func()) error {
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := edit(f); err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return err
	}
	done()
	return nil
}

func interfaceRows(set meshnode.InterfaceSet) [][]string {
	rows := make([][]string, 0, len(set))
	for _, iface := range set {
		mode := string(iface.Mode)
		if mode == "" {
			mode = string(meshnode.ModeFull)
		}
		rows = append(rows, []string{iface.Name, string(iface.Kind), ui.Enabled(iface.Enabled), mode, endpoint(iface)})
	}
	return rows
}

// endpoint summarizes where an interface connects or listens.
func endpoint(iface meshnode.InterfaceConfig) string {
	switch iface.Kind {
	case meshnode.TCPClientInterface:
		return hostPort(iface.TargetHost, iface.TargetPort)
	case meshnode.TCPServerInterface, meshnode.UDPInterface:
		return hostPort(iface.ListenIP, iface.ListenPort)
	case meshnode.RNodeInterface:
		switch iface.ConnectionMode {
		case meshnode.RNodeTCP:
			return "tcp://" + iface.TCPHost
		case meshnode.RNodeBluetooth:
			return "ble://" + iface.DeviceName
		default:
			return iface.SerialPort
		}
	case meshnode.AndroidBLEInterface:
		return "ble://" + iface.DeviceName
	case meshnode.AutoInterface:
		if iface.GroupID != "" {
			return "group " + iface.GroupID
		}
		return "local"
	default:
		return ""
	}
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}
