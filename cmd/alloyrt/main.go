// Command alloyrt runs the alloy chat-bot runtime.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alloyrt/alloy/internal/buildinfo"
	"github.com/alloyrt/alloy/internal/plugin"
	"github.com/alloyrt/alloy/internal/plugins/notify"
	"github.com/alloyrt/alloy/internal/runtime"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "alloyrt",
	Short: "alloyrt is a QQ-protocol chat-bot runtime",
	Long: `alloyrt terminates OneBot-shaped JSON protocol sessions over
WebSocket and HTTP transports, dispatches parsed events through a
matcher/handler pipeline, and loads plugins against a typed service
registry.`,
	Version: buildinfo.Version,
}

func init() {
	rootCmd.SetVersionTemplate(buildinfo.String() + "\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to alloy.yaml (defaults to the standard search path)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the runtime: load plugins, start adapters, serve until signaled",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := runtime.New(configPath)
		if err != nil {
			return fmt.Errorf("runtime init: %w", err)
		}

		if err := rt.RegisterPlugin(notify.New()); err != nil {
			return fmt.Errorf("register notify plugin: %w", err)
		}

		return rt.Run(context.Background())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildinfo.BuildInfo()
		fmt.Println(buildinfo.String())
		for _, k := range []string{"go_version", "os", "arch"} {
			fmt.Printf("  %-12s %s\n", k+":", info[k])
		}
	},
}
