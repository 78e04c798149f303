package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kvthweatt/USB-Monitor/internal/config"
	"github.com/kvthweatt/USB-Monitor/internal/policy"
)

func init() {
	rootCmd.AddCommand(newCheckConfigCmd())
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <file>",
		Short: "Validate a daemon or security config file",
		Long: `Validate a config file without starting the daemon.

Files ending in .json are read as security configs (rules and level);
anything else is read as the daemon YAML config.

Examples:
  usbmond check-config /etc/usbmon/usbmond.yaml
  usbmond check-config /etc/usbmon/security.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			out := cmd.OutOrStdout()

			var err error
			if strings.EqualFold(filepath.Ext(path), ".json") {
				err = checkSecurityConfig(out, path)
			} else {
				err = checkDaemonConfig(out, path)
			}
			if err != nil {
				fmt.Fprintf(out, "%s %s\n", failFmt("FAIL"), path)
				return err
			}
			fmt.Fprintf(out, "%s %s\n", okFmt("OK"), path)
			return nil
		},
	}
}

func checkSecurityConfig(out io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading security config %q: %w", path, err)
	}
	doc, err := policy.ParseDocument(data)
	if err != nil {
		return err
	}

	if doc.LevelSet {
		fmt.Fprintf(out, "%s %s\n", keyFmt("security level:"), doc.SecurityLevel)
	} else {
		fmt.Fprintf(out, "%s not set, the running level is kept\n", keyFmt("security level:"))
	}
	fmt.Fprintf(out, "%s %d\n", keyFmt("rules:"), len(doc.Rules))
	if doc.Policy != nil {
		switch {
		case !doc.LevelSet:
			fmt.Fprintf(out, "%s authorizationPolicy applies only if the running level is Custom\n", keyFmt("note:"))
		case doc.SecurityLevel == policy.LevelCustom:
			fmt.Fprintf(out, "%s %+v\n", keyFmt("authorization policy:"), *doc.Policy)
		default:
			fmt.Fprintf(out, "%s authorizationPolicy is ignored outside the Custom level\n", keyFmt("note:"))
		}
	}
	return nil
}

func checkDaemonConfig(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", keyFmt("listen:"), cfg.Server.Addr())
	fmt.Fprintf(out, "%s %s\n", keyFmt("security level:"), cfg.Security.Level)
	if cfg.Security.ConfigPath != "" {
		fmt.Fprintf(out, "%s %s (watch=%t)\n", keyFmt("security config:"), cfg.Security.ConfigPath, cfg.Security.Watch)
	}
	return nil
}
