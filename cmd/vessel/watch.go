package main

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/vessel/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a host session's status API in a terminal dashboard",
	Long: `watch connects to the status API of a running host session (api.enabled) and shows
its health, per-plugin results and the live event stream. It never touches the
protocol channel between the host and the presentation process.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Int("port", 0, "Port claimed by the host session")
	watchCmd.Flags().String("url", "", "Status API base URL, overrides --port")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	port, _ := cmd.Flags().GetInt("port")
	raw, _ := cmd.Flags().GetString("url")
	base, err := watchURL(raw, port)
	if err != nil {
		return err
	}

	p := tea.NewProgram(watch.New(base), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// watchURL resolves the API base URL from --url or --port.
func watchURL(raw string, port int) (string, error) {
	if raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("invalid --url %q", raw)
		}
		return u.Scheme + "://" + u.Host, nil
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("--port or --url is required")
	}
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), nil
}
