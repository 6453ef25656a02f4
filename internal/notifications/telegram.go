package notifications

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends events to a single chat through the bot API
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the notifier at another API host
func (t *TelegramNotifier) WithBaseURL(baseURL string) *TelegramNotifier {
	t.baseURL = strings.TrimRight(baseURL, "/")
	return t
}

func (t *TelegramNotifier) Notify(ctx context.Context, userID string, event Event) error {
	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", format(userID, event))
	data.Set("parse_mode", "Markdown")

	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

func format(userID string, event Event) string {
	emoji := "ℹ️"
	switch event.Level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	title := event.Title
	if title == "" {
		title = string(event.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", emoji, title, event.Message)
	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for k := range event.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: `%s`", k, event.Fields[k])
		}
	}
	if userID != "" {
		fmt.Fprintf(&b, "\n\nuser: `%s`", userID)
	}
	return b.String()
}
