package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

// errCrawlFailed marks a failure already reported on stdout.
var errCrawlFailed = errors.New("crawl failed")

type crawlOptions struct {
	render      string
	bypassCache bool
	noRobots    bool
	pretty      bool
}

func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl one URL and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.render, "render", "", "render mode: auto, always or never")
	cmd.Flags().BoolVar(&opts.bypassCache, "bypass-cache", false, "skip the result cache lookup")
	cmd.Flags().BoolVar(&opts.noRobots, "no-robots", false, "ignore robots.txt")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent JSON output")
	return cmd
}

func runCrawl(cmd *cobra.Command, rawURL string, opts crawlOptions) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	app, err := buildApp(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer app.Close()

	request := crawler.CrawlRequest{
		URL:         rawURL,
		Render:      crawler.RenderMode(opts.render),
		BypassCache: opts.bypassCache,
	}
	if cmd.Flags().Changed("no-robots") {
		respect := !opts.noRobots
		request.RespectRobots = &respect
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}

	result, err := app.Crawler().Crawl(cmd.Context(), request)
	if err != nil {
		payload := map[string]string{
			"error":   err.Error(),
			"message": crawler.FailureMessage,
			"kind":    string(crawler.KindOf(err)),
		}
		if encErr := enc.Encode(payload); encErr != nil {
			return fmt.Errorf("write output: %w", encErr)
		}
		return errCrawlFailed
	}
	if err := enc.Encode(map[string]any{"content": result}); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
