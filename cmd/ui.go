package cmd

import (
	"fmt"

	"github.com/fatih/color"
)

func printHeader(title string) {
	fmt.Println(color.CyanString(title))
	fmt.Println("─────────────────────")
}

func okString(s string) string   { return color.GreenString(s) }
func warnString(s string) string { return color.YellowString(s) }
func failString(s string) string { return color.RedString(s) }
