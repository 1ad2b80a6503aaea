package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/reelfetch/internal/common"
	"github.com/ternarybob/reelfetch/internal/httpclient"
	"github.com/ternarybob/reelfetch/internal/services/discovery"
)

var discoverJSON bool

var discoverCmd = &cobra.Command{
	Use:   "discover <url>",
	Short: "List the video links found on a listing page",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Print links as JSON")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	client, err := httpclient.NewClient(common.ParseDuration(config.Discovery.RequestTimeout, 30*time.Second), config.Browser.UserAgent)
	if err != nil {
		return err
	}
	scanner := discovery.NewScanner(config.Discovery.LinkSelector, client, logger)

	links, err := scanner.ScanURL(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if discoverJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(links)
	}

	for _, link := range links {
		fmt.Fprintf(out, "%s\t%s\n", link.URL, link.Title)
	}
	fmt.Fprintf(out, "\n%d links\n", len(links))
	return nil
}
