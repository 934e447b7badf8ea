package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/consumer"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/pipeline"
)

var processFile string

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one notification for a JSON status event",
	Long: `Reads one ingest status event as JSON from --file or stdin and runs a
single notification invocation against the configured targets. The event may
be a flat attribute object, an object holding MessageAttributes, or an SNS
notification envelope. Exits non-zero when the event is rejected or the
notification cannot be delivered.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processFile, "file", "f", "", "event file (default: stdin)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	data, err := readEvent(cmd.InOrStdin(), processFile)
	if err != nil {
		return err
	}

	sender, err := buildSender(cfg, logger)
	if err != nil {
		return err
	}
	processor, err := buildProcessor(cfg, sender, logger)
	if err != nil {
		return err
	}

	attrs, err := consumer.DecodeAttributes(&messaging.Message{Data: data})
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	res := processor.Process(cmd.Context(), attrs)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "invocation: %s\nstate: %s\n", res.InvocationID, res.State)
	if res.State == pipeline.StateDispatched || res.State == pipeline.StateDeliveryFailed {
		fmt.Fprintf(out, "subject: %s\n", res.Message.Subject)
	}
	return res.Err
}

func readEvent(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event file: %w", err)
	}
	return data, nil
}
