package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/seance/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	printHeader("seance doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" " + warnString("(NOT FOUND, using defaults)"))
	} else {
		fmt.Println(" " + okString("(OK)"))
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  %s %s\n", failString("Config load error:"), err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  %s %s\n", failString("Config invalid:"), err)
	}

	fmt.Println()
	fmt.Println("  Autoproxy:")
	fmt.Printf("    %-14s %s\n", "Scope:", cfg.Autoproxy.Scope)
	timeout := "never"
	if cfg.Autoproxy.Timeout > 0 {
		timeout = cfg.Autoproxy.Timeout.Std().String()
	}
	fmt.Printf("    %-14s %s\n", "Clear after:", timeout)
	fmt.Printf("    %-14s %t\n", "Start enabled:", cfg.Autoproxy.StartEnabled)
	fmt.Printf("    %-14s %q\n", "Peer pattern:", cfg.Autoproxy.PeerPattern)
	fmt.Printf("    %-14s %sautoproxy / %sap\n", "Command:", cfg.Autoproxy.CommandPrefix, cfg.Autoproxy.CommandPrefix)
	fmt.Printf("    %-14s %s<text>\n", "Manual proxy:", cfg.Autoproxy.ProxyPrefix)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")

	fmt.Println()
	fmt.Println("  Observability:")
	if cfg.Metrics.Addr != "" {
		fmt.Printf("    %-14s %s/metrics\n", "Metrics:", cfg.Metrics.Addr)
	} else {
		fmt.Printf("    %-14s disabled\n", "Metrics:")
	}
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-14s %s (%s)\n", "Tracing:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-14s disabled\n", "Tracing:")
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	switch {
	case !enabled:
		fmt.Printf("    %-14s disabled\n", name+":")
	case hasCredentials:
		fmt.Printf("    %-14s %s\n", name+":", okString("enabled (token set)"))
	default:
		fmt.Printf("    %-14s %s\n", name+":", failString("enabled (MISSING TOKEN)"))
	}
}
