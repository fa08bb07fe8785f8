package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wardend/wardend/shared/conf"
	"github.com/wardend/wardend/shared/logger"
)

// Version is the wardend release version.
var Version = "0.1"

// defaultConfigPath is consulted for defaults unless --config overrides it.
const defaultConfigPath = "/etc/wardend.conf"

type cmdGlobal struct {
	flagName     string
	flagDebug    int
	flagConfig   string
	flagPidfiles string
}

func main() {
	globalCmd := cmdGlobal{}

	app := &cobra.Command{
		Use:   "wardend [flags] [--] <command> [args...]",
		Short: "Run another command as a daemon",
		Long: `Description:
  Run another command as a daemon

  wardend detaches from the terminal, becomes the parent of the given
  command and reaps it when it dies. With --name, a locked pidfile ensures
  that only one daemon with that name is active at a time. A termination
  signal sent to wardend is forwarded to the whole process group before the
  pidfile is removed.
`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return globalCmd.run(cmd, args)
		},
	}

	// The command vector starts at the first non-option argument.
	app.Flags().SetInterspersed(false)
	app.Flags().StringVarP(&globalCmd.flagName, "name", "n", "", "Daemon name for pidfile singleton enforcement"+"``")
	app.Flags().IntVarP(&globalCmd.flagDebug, "debug", "d", 0, "Debug verbosity level"+"``")
	app.Flags().Lookup("debug").NoOptDefVal = "1"
	app.Flags().StringVarP(&globalCmd.flagConfig, "config", "C", defaultConfigPath, "Configuration file"+"``")
	app.Flags().StringVar(&globalCmd.flagPidfiles, "pidfiles", "", "Directory for pidfiles instead of the default"+"``")

	err := app.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig fills in flag values from the configuration file. Flags given
// on the command line win over the file.
func (c *cmdGlobal) loadConfig(cmd *cobra.Command) error {
	return conf.ParseFile(c.flagConfig, func(line string, words []string, lineno int) error {
		switch words[0] {
		case "name":
			if len(words) == 2 && !cmd.Flags().Changed("name") {
				c.flagName = words[1]
				return nil
			}

		case "pidfiles":
			if len(words) == 2 && !cmd.Flags().Changed("pidfiles") {
				c.flagPidfiles = words[1]
				return nil
			}

		case "debug":
			if len(words) == 2 && !cmd.Flags().Changed("debug") {
				level, err := strconv.Atoi(words[1])
				if err != nil {
					return fmt.Errorf("Invalid debug level at line %d: %w", lineno, err)
				}

				c.flagDebug = level
				return nil
			}

		default:
			return fmt.Errorf("Unknown configuration directive %q at line %d", words[0], lineno)
		}

		return nil
	})
}

func (c *cmdGlobal) run(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		_ = cmd.Usage()
		return errors.New("Missing command to supervise")
	}

	err := c.loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("Failed to load configuration: %w", err)
	}

	logger.Init("wardend", c.flagDebug)

	s := newSupervisor(c.flagName, c.flagPidfiles, args)
	return s.run()
}
