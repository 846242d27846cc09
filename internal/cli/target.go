package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/pummel/internal/target"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Serve the reference summarization target",
	Long: `Serve a small summarization API to point load runs at:

  GET  /            {"message": "Hello World"}
  POST /summarize/  {"text": "..."} -> {"summary": "..."}

--fail-ratio answers that share of /summarize/ requests with 503, and
--latency adds a fixed delay to every /summarize/ request.

Example:
  pummel target --addr :8000 --fail-ratio 0.5 --latency 200ms`,
	Args: cobra.NoArgs,
	RunE: serveTarget,
}

func serveTarget(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return err
	}

	srv, err := target.New(target.Config{
		Addr:      v.GetString("addr"),
		FailRatio: v.GetFloat64("fail-ratio"),
		Latency:   v.GetDuration("latency"),
		MaxWords:  v.GetInt("max-words"),
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := make(chan string, 1)
	go func() {
		if addr, ok := <-ready; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", addr)
		}
	}()
	return srv.ListenAndServe(ctx, ready)
}

func init() {
	targetCmd.Flags().String("addr", ":8000", "Listen address")
	targetCmd.Flags().Float64("fail-ratio", 0, "Fraction of /summarize/ requests answered with 503 (0-1)")
	targetCmd.Flags().Duration("latency", 0, "Delay added to every /summarize/ request")
	targetCmd.Flags().Int("max-words", target.DefaultMaxWords, "Summary length in words")
}
