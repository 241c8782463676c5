// Package ui provides the server's console banner and shared styles.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Version information - can be overridden at build time via ldflags:
// go build -ldflags "-X github.com/chainsentry/chainsentry/pkg/ui.Version=1.0.0"
var (
	Version = "0.4.2"
	Commit  = "dev"
)

// Color palette.
var (
	Primary   = lipgloss.Color("#00D4AA") // teal
	Secondary = lipgloss.Color("#4D96FF") // blue
	Muted     = lipgloss.Color("#6B7280") // gray
)

var (
	bannerStyle = lipgloss.NewStyle().Foreground(Primary).Bold(true)
	infoStyle   = lipgloss.NewStyle().Foreground(Muted)
)

// SetNoColor disables colored output.
func SetNoColor(noColor bool) {
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

const bannerArt = `
  _____ _           _       _____            _
 / ____| |         (_)     / ____|          | |
| |    | |__   __ _ _ _ __| (___   ___ _ __ | |_ _ __ _   _
| |    | '_ \ / _' | | '_ \ ___ \ / _ \ '_ \| __| '__| | | |
| |____| | | | (_| | | | | |___) |  __/ | | | |_| |  | |_| |
 \_____|_| |_|\__,_|_|_| |_|____/ \___|_| |_|\__|_|   \__, |
                                                       __/ |
                                                      |___/ `

// PrintBanner writes the startup banner and listen addresses to stderr.
func PrintBanner(apiAddr, subscribeAddr, metricsAddr string) {
	for _, line := range strings.Split(bannerArt, "\n") {
		if line != "" {
			fmt.Fprintln(os.Stderr, bannerStyle.Render(line))
		}
	}
	fmt.Fprintln(os.Stderr, infoStyle.Render(fmt.Sprintf("  v%s (%s)", Version, Commit)))
	fmt.Fprintln(os.Stderr, infoStyle.Render("  api        "+apiAddr))
	fmt.Fprintln(os.Stderr, infoStyle.Render("  subscribe  "+subscribeAddr))
	if metricsAddr != "" {
		fmt.Fprintln(os.Stderr, infoStyle.Render("  metrics    "+metricsAddr))
	}
	fmt.Fprintln(os.Stderr)
}
