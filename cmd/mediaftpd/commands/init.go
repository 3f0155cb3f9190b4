package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mediakit/ftpd/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a commented sample configuration file to the config path.

Examples:
  # Write ./config.yaml
  mediaftpd init

  # Write to a custom location
  mediaftpd init --config /etc/mediaftpd/config.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configFile()

	if initForce {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if err := config.WriteSample(path); err != nil {
		return err
	}

	cmd.Printf("Wrote %s\n", path)
	cmd.Println("Edit server.root before starting the server.")
	return nil
}
