package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensein/mriqc-nidm/internal/config"
	"github.com/sensein/mriqc-nidm/internal/ui"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write the default configuration file",
	Long: `Writes the built-in defaults as a YAML configuration file, ready to
edit and pass back via --config (or picked up automatically as
./` + config.ConfigFileName + `). Refuses to overwrite an existing file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigFileName
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Println(ui.RenderSuccess("wrote default configuration to " + path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}
