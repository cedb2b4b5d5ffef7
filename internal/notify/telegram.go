package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/domain"
)

// TelegramNotifier pushes a one-line status message to a fixed chat when an
// inspection finishes.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	// The bot API has no context support; the client timeout bounds Send.
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}

	log.Printf("telegram notifier authorized on account %s", api.Self.UserName)

	return &TelegramNotifier{
		api:    api,
		chatID: chatID,
	}, nil
}

func (n *TelegramNotifier) InspectionFinished(_ context.Context, insp domain.Inspection) {
	msg := tgbotapi.NewMessage(n.chatID, renderMessage(insp))
	if _, err := n.api.Send(msg); err != nil {
		log.Printf("telegram notifier: send failed: %v", err)
	}
}

func renderMessage(insp domain.Inspection) string {
	switch insp.Status {
	case domain.InspectionStatusCompleted:
		return fmt.Sprintf("✅ Inspection %s completed after %d poll attempts.", insp.ID, insp.PollAttempts)
	case domain.InspectionStatusTimedOut:
		return fmt.Sprintf("⏳ Inspection %s timed out waiting for the labelled result (%d poll attempts).", insp.ID, insp.PollAttempts)
	case domain.InspectionStatusUploadFailed:
		reason := ""
		if insp.FailureReason != nil {
			reason = ": " + *insp.FailureReason
		}
		return fmt.Sprintf("⚠️ Inspection %s upload failed after %d attempts%s", insp.ID, insp.UploadAttempts, reason)
	default:
		return fmt.Sprintf("Inspection %s is now %s.", insp.ID, insp.Status)
	}
}
