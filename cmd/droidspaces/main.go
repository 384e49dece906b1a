// Command droidspaces is the thin executable entrypoint for the bring-up
// pipeline. Flag parsing here is intentionally minimal: spec.md §1 treats
// the real command-line parser and configuration loader as an external
// collaborator out of this core's scope, assumed to deliver a fully
// populated config.Config. This main package exists only so the core is
// runnable, and to host the guest-init re-exec dispatch (see
// internal/pkg/orchestrator.GuestInitStageArg).
package main

import (
	"flag"
	"os"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
	"github.com/droidspaces/droidspaces/internal/pkg/orchestrator"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == orchestrator.GuestInitStageArg {
		if err := orchestrator.RunGuestInit(); err != nil {
			sylog.Fatalf("guest init: %s", err)
		}
		return
	}

	cfg, opts := parseFlags()

	code, err := orchestrator.Run(cfg, opts)
	if err != nil {
		sylog.Fatalf("%s", err)
	}
	os.Exit(code)
}

func parseFlags() (*config.Config, orchestrator.Options) {
	cfg := &config.Config{}
	opts := orchestrator.Options{}

	flag.StringVar(&cfg.ContainerName, "name", "", "container name")
	flag.StringVar(&cfg.RootfsPath, "rootfs", "", "path to the guest root filesystem")
	flag.StringVar(&cfg.RootfsImage, "image", "", "path to a loop-mountable filesystem image")
	flag.StringVar(&cfg.Hostname, "hostname", "", "guest hostname (empty inherits the host's)")
	flag.IntVar(&cfg.TTYCount, "ttys", 0, "number of auxiliary TTYs, 0-6")
	flag.BoolVar(&cfg.IsSystemd, "systemd", false, "guest init is systemd or equivalent")
	flag.BoolVar(&cfg.HWAccess, "hw-access", false, "grant host devtmpfs and GPU group membership")
	flag.BoolVar(&cfg.TermuxX11, "termux-x11", false, "bridge the Termux user-space display sockets")
	flag.BoolVar(&cfg.EnableIPv6, "ipv6", false, "enable IPv6 forwarding on the host")
	flag.BoolVar(&cfg.RelaxSELinux, "relax-selinux", false, "flip an enforcing Android SELinux to permissive")

	flag.StringVar(&opts.Workspace, "workspace", "/var/lib/droidspaces", "workspace directory for loop-mount points and handoff state")
	flag.StringVar(&opts.InitPath, "init", "/sbin/init", "guest init binary to exec after bring-up")
	flag.StringVar(&opts.ContainerSubnet, "subnet", "", "container subnet for the Android NAT rule (empty disables it)")

	flag.Parse()
	opts.InitArgs = flag.Args()

	return cfg, opts
}
