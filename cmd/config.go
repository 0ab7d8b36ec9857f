package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/config"
	"github.com/marcus/offsync/internal/output"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage offsync configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		f, err := config.LoadFile()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		if err := config.Set(f, key, val); err != nil {
			output.Error("%v", err)
			if errors.Is(err, config.ErrUnknownKey) {
				fmt.Println("Valid keys:", strings.Join(config.Keys, ", "))
			}
			return err
		}
		if err := config.SaveFile(f); err != nil {
			output.Error("save config: %v", err)
			return err
		}

		output.Success("set %s = %s", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value from config.json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := config.LoadFile()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		val, err := config.Get(f, args[0])
		if err != nil {
			output.Error("%v", err)
			fmt.Println("Valid keys:", strings.Join(config.Keys, ", "))
			return err
		}
		if val == "" {
			val = "(default)"
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the resolved configuration (env > file > default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved := *cfg
		if resolved.AnonKey != "" {
			resolved.AnonKey = "set"
		}
		if jsonOutput(cmd) {
			return output.JSON(resolved)
		}
		rows := [][2]string{
			{"config file", resolved.ConfigFilePath},
			{"data dir", resolved.DataDir},
			{"remote url", resolved.URL},
			{"anon key", orNone(resolved.AnonKey)},
			{"remote timeout", resolved.RemoteTimeout.String()},
			{"auto sync", fmt.Sprint(resolved.AutoSync)},
			{"drain interval", resolved.DrainInterval.String()},
			{"probe interval", resolved.ProbeInterval.String()},
			{"log level", resolved.LogLevel},
			{"log file", orNone(resolved.LogFile)},
			{"focus minutes", fmt.Sprint(resolved.FocusMinutes)},
		}
		for _, r := range rows {
			fmt.Printf("%-16s %s\n", r[0], r[1])
		}
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
