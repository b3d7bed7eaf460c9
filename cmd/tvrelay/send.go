package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyward/tvrelay/internal/model"
)

var sendOpts struct {
	title     string
	message   string
	app       string
	duration  int
	position  string
	priority  string
	isGroup   bool
	groupName string
	sender    string
	mediaURL  string
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a notification to the TV overlay",
	Long: `Send a notification event to a running tvrelayd daemon.

Examples:

  tvrelay send -t "Alice" -m "lunch?" -a com.whatsapp
  tvrelay send -t "Family" -m "dinner at 7" -a com.whatsapp \
      --group --group-name Family --sender Mum
  tvrelay send -t "Clip" -m "watch this" --media-url https://host/clip.mp4`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendOpts.title, "title", "t", "", "Notification title (required)")
	sendCmd.Flags().StringVarP(&sendOpts.message, "message", "m", "", "Notification body")
	sendCmd.Flags().StringVarP(&sendOpts.app, "app", "a", "com.example.tvrelay", "Source app identifier")
	sendCmd.Flags().IntVarP(&sendOpts.duration, "duration", "d", 0, "Display duration in seconds (0 uses the daemon default)")
	sendCmd.Flags().StringVar(&sendOpts.position, "position", "", "Requested screen slot (top-end, top-start, bottom-end, bottom-start, top-center, bottom-center)")
	sendCmd.Flags().StringVar(&sendOpts.priority, "priority", "", "Priority (low, normal, high)")
	sendCmd.Flags().BoolVar(&sendOpts.isGroup, "group", false, "Mark the event as a group conversation")
	sendCmd.Flags().StringVar(&sendOpts.groupName, "group-name", "", "Group conversation name")
	sendCmd.Flags().StringVar(&sendOpts.sender, "sender", "", "Sender name within the group")
	sendCmd.Flags().StringVar(&sendOpts.mediaURL, "media-url", "", "Image, GIF or video URL to show alongside the text")

	_ = sendCmd.MarkFlagRequired("title")
}

func runSend(cmd *cobra.Command, args []string) error {
	payload := model.Payload{
		Title:     sendOpts.title,
		Message:   sendOpts.message,
		App:       sendOpts.app,
		Duration:  sendOpts.duration,
		Position:  sendOpts.position,
		Priority:  sendOpts.priority,
		IsGroup:   sendOpts.isGroup,
		GroupName: sendOpts.groupName,
		Sender:    sendOpts.sender,
		MediaURL:  sendOpts.mediaURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		globalOpts.server+"/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", globalOpts.server, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon rejected event: %s", e.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	var ack struct {
		ID       string `json:"id"`
		Filtered bool   `json:"filtered"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		return err
	}

	if ack.Filtered {
		fmt.Println("accepted (filtered by daemon allowlist)")
		return nil
	}
	fmt.Printf("sent %s\n", ack.ID)
	return nil
}
