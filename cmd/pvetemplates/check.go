package main

import (
	"github.com/spf13/cobra"

	"github.com/fredrikscode/proxmox-scripts/internal/preflight"
)

var installDeps bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that this host can build templates",
	Long: `Check that this host is a Proxmox VE node, that the command runs as
root, that qm and virt-customize are installed, and that the template bridge
exists.

With --install, missing packages are installed with apt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		c := a.console
		if err := preflight.CheckProxmox(); err != nil {
			c.Failure("%v", err)
			return err
		}
		c.Success("Running on Proxmox VE")

		if err := preflight.CheckRoot(); err != nil {
			c.Failure("%v", err)
			return err
		}
		c.Success("Running as root")

		tools := preflight.DefaultTools()
		results := preflight.CheckTools(tools)
		if results.HasErrors() && installDeps {
			invoker := newRunner(a.logger, flags.verbose, a.cfg.Timeouts.Command)
			if err := preflight.InstallPackages(cmd.Context(), invoker, results.Missing); err != nil {
				c.Failure("%v", err)
				return err
			}
			results = preflight.CheckTools(tools)
		}
		for _, r := range results.Results {
			if r.Found {
				c.Success("%s found at %s", r.Tool.Name, r.Path)
				continue
			}
			c.Failure("%s not found (%s)", r.Tool.Name, r.Tool.Package)
		}
		if err := results.Error(); err != nil {
			return err
		}

		if err := preflight.CheckBridge(a.cfg.Template.Bridge); err != nil {
			c.Warn("%v", err)
		} else {
			c.Success("Bridge %s exists", a.cfg.Template.Bridge)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&installDeps, "install", false, "install missing packages with apt")
}
