package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/feedpoller/internal/artifact"
)

// newInspectCmd creates the 'inspect' subcommand.
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <artifact-file>",
		Short: "Print an artifact's metadata and summarize its feed body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open artifact: %w", err)
			}
			defer f.Close()
			return inspectArtifact(cmd.OutOrStdout(), f)
		},
	}
}

func inspectArtifact(w io.Writer, r io.Reader) error {
	rec, err := artifact.Decode(r)
	if err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}

	fmt.Fprintf(w, "last_modified: %s\n", formatUnix(rec.LastModified))
	fmt.Fprintf(w, "etag:          %s\n", rec.ETag)
	fmt.Fprintf(w, "effective_url: %s\n", rec.EffectiveURL)
	fmt.Fprintf(w, "fetched_at:    %s\n", formatUnix(rec.FetchedAt))
	fmt.Fprintf(w, "body_bytes:    %d\n", len(rec.Body))

	if len(rec.Body) == 0 {
		return nil
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(rec.Body))
	if err != nil {
		fmt.Fprintf(w, "feed:          unparseable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(w, "feed_type:     %s %s\n", feed.FeedType, feed.FeedVersion)
	fmt.Fprintf(w, "feed_title:    %s\n", feed.Title)
	fmt.Fprintf(w, "feed_items:    %d\n", len(feed.Items))
	return nil
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return "0 (unset)"
	}
	return fmt.Sprintf("%d (%s)", sec, time.Unix(sec, 0).UTC().Format(time.RFC3339))
}
