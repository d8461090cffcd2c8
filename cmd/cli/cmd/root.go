package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultURL = "http://localhost:6161"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "flowctl is the operator CLI of the flowplane controller",
	Long: `flowctl talks to the internal endpoints of a flowplane controller.

Common workflows:

  Inspect a job, pending or completed:
    flowctl job <job-id>

  Fail a job stuck on a dead worker (schedules and error handlers still fire):
    flowctl fail <job-id> --reason "worker host lost"

  Re-enable a schedule the engine disabled after a failure:
    flowctl schedule enable <workspace> <schedule-path>

Configuration:
  Flags, $HOME/.flowctl.yaml or environment variables:
    FLOWPLANE_URL      Controller URL (default: http://localhost:6161)
    FLOWPLANE_TOKEN    Internal secret of the controller`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".flowctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FLOWPLANE")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// newClient builds a client from the resolved url and token.
func newClient() (*Client, error) {
	url := strings.TrimSuffix(viper.GetString("url"), "/")
	if url == "" {
		url = defaultURL
	}
	token := viper.GetString("token")
	if token == "" {
		return nil, errMissingToken
	}
	return NewClient(url, token), nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowctl.yaml)")

	rootCmd.PersistentFlags().String("url", defaultURL, "flowplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "internal secret of the controller")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
