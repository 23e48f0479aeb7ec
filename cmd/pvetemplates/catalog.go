package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fredrikscode/proxmox-scripts/internal/output"
)

var noHeaders bool

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the images that would be built on this host",
	Long: `Show the images resolved for a host: name, assigned VMID, whether the
image is customized and where it is downloaded from.

Use --hostname to inspect another host's profile.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		hostname, err := resolveHostname()
		if err != nil {
			return err
		}
		profile, images, err := a.catalog.Resolve(hostname, flags.only)
		if err != nil {
			return err
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(flags.outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}
		text, err := formatter.FormatImages(images)
		if err != nil {
			return err
		}

		a.logger.Debug().Str("hostname", profile.Hostname).Int("images", len(images)).Msg("Catalog resolved")
		_, err = fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	},
}

func init() {
	catalogCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit the header row in table output")
}
