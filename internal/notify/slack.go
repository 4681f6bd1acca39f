package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mgiordano/apielt/internal/config"
)

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// PipelineStarted sends notification when a pipeline run starts
func (n *Notifier) PipelineStarted(runID string, sources []string) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Pipeline Started",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Sources", Value: strings.Join(sources, ", "), Short: true},
				},
				Footer:    "apielt",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// PipelineCompleted sends notification when a run completes successfully
func (n *Notifier) PipelineCompleted(runID string, startTime time.Time, duration time.Duration, rowsStaged, rowsLoaded int64, skippedUnits int) error {
	if !n.IsEnabled() {
		return nil
	}

	headerText := fmt.Sprintf("Pipeline run completed. Staged %s rows, loaded %s.",
		formatNumberWithCommas(rowsStaged), formatNumberWithCommas(rowsLoaded))

	color := "#36a64f" // green
	icon := ":white_check_mark:"
	if skippedUnits > 0 {
		headerText += fmt.Sprintf(" %d units skipped.", skippedUnits)
		color = "#ffc107" // yellow
		icon = ":warning:"
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: icon,
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: color,
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Rows Staged", Value: formatNumberWithCommas(rowsStaged), Short: true},
					{Title: "Rows Loaded", Value: formatNumberWithCommas(rowsLoaded), Short: true},
					{Title: "Skipped Units", Value: fmt.Sprintf("%d", skippedUnits), Short: true},
				},
				Footer:    "apielt",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// PipelineFailed sends notification when a run fails
func (n *Notifier) PipelineFailed(runID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: "#dc3545", // red
				Title: "Pipeline Failed",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    "apielt",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// SourceUnitFailed sends notification for an individual skipped unit
func (n *Notifier) SourceUnitFailed(runID, source, identifier, reason string) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Attachments: []SlackAttachment{
			{
				Color: "#ffc107", // yellow
				Title: "Extraction Unit Skipped",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Source", Value: source, Short: true},
					{Title: "Unit", Value: identifier, Short: true},
					{Title: "Reason", Value: reason, Short: false},
				},
				Footer:    "apielt",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "apielt"
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
