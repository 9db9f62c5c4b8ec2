package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"iothook/internal/config"
	"iothook/internal/events"
	"iothook/internal/sender"

	"github.com/spf13/cobra"
)

var (
	sendURL     string
	sendSecret  string
	sendAPIKey  string
	sendType    string
	sendDevice  string
	sendData    string
	sendEventID string
	sendRepeat  int
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a signed test event to a receiver",
	Long: `Build a platform event, sign it with the shared secret and POST it.

Server errors and network failures are retried with backoff. Use --repeat to
deliver the same event several times and observe duplicate handling.`,
	Example: `  iothook send --type device.heartbeat --data '{"voltage":220,"temp":31}'
  iothook send --url http://receiver:8888/webhook --event-id evt-1 --repeat 2`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendURL, "url", "http://127.0.0.1:8888/webhook", "Receiver webhook URL")
	sendCmd.Flags().StringVar(&sendSecret, "secret", "", "Shared webhook secret (env IOTHOOK_SECRET)")
	sendCmd.Flags().StringVar(&sendAPIKey, "api-key", "", "Value for the X-Api-Key header")
	sendCmd.Flags().StringVarP(&sendType, "type", "t", string(events.TypeDeviceHeartbeat), "Event type")
	sendCmd.Flags().StringVarP(&sendDevice, "device", "d", "82241218000382", "Device physical id")
	sendCmd.Flags().StringVar(&sendData, "data", "{}", "Event data as a JSON object")
	sendCmd.Flags().StringVar(&sendEventID, "event-id", "", "Event id (generated when empty)")
	sendCmd.Flags().IntVar(&sendRepeat, "repeat", 1, "Number of times to deliver the event")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "Overall timeout, including retries")
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendURL == "" {
		return errors.New("--url is required")
	}
	if sendRepeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", sendRepeat)
	}

	// The .env file is loaded after flag defaults are computed.
	if !cmd.Flags().Changed("secret") {
		sendSecret = os.Getenv(config.EnvSecret)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(sendData), &data); err != nil {
		return fmt.Errorf("invalid --data: %w", err)
	}

	s := sender.New(nil, sendAPIKey, sendSecret)
	event := s.NewEvent(sendType, sendDevice, data)
	if sendEventID != "" {
		event.EventID = sendEventID
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	for i := 0; i < sendRepeat; i++ {
		resp, err := s.Send(ctx, sendURL, event)
		if err != nil {
			return fmt.Errorf("delivery %d failed: %w", i+1, err)
		}
		fmt.Fprintf(out, "%s -> %d %s\n", event.EventID, resp.StatusCode, resp.Body)
	}
	return nil
}
