package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

const (
	colorQuiet  = 3092790  // #2F3136 (Dark Grey)
	colorWarm   = 16753920 // #FFA500 (Orange)
	colorHot    = 16711680 // #FF0000 (Red)
	colorFrenzy = 16776960 // #FFFF00 (Yellow)

	scoreThresholdWarm   = 10
	scoreThresholdHot    = 50
	scoreThresholdFrenzy = 200

	maxEmbedFields = 10
)

// Discord posts reports to a channel webhook.
type Discord struct {
	session     *discordgo.Session
	webhookID   string
	token       string
	rateLimiter *rate.Limiter
}

// NewDiscord parses a webhook URL of the form https://discord.com/api/webhooks/{id}/{token}.
func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discordgo.New: %w", err)
	}
	session.Client.Timeout = 10 * time.Second
	session.UserAgent = "ticker-monitor (https://github.com/pauljones0/ticker-monitor, 1.0)"

	return &Discord{
		session:     session,
		webhookID:   id,
		token:       token,
		rateLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}, nil
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("webhook url must contain /webhooks/{id}/{token}")
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Emit(ctx context.Context, report models.Report) error {
	if err := d.rateLimiter.Wait(ctx); err != nil {
		return err
	}
	params := &discordgo.WebhookParams{
		Username: "Ticker Monitor",
		Embeds:   []*discordgo.MessageEmbed{formatReportEmbed(report)},
	}
	if _, err := d.session.WebhookExecute(d.webhookID, d.token, true, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

func formatReportEmbed(report models.Report) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Removed-post tickers: %s (%s window)", report.Name, formatWindow(report.Window)),
		Timestamp: report.GeneratedAt.UTC().Format(time.RFC3339),
		Color:     heatColor(report.Ranked),
		Footer:    &discordgo.MessageEmbedFooter{Text: "score = mentions × distinct authors"},
	}

	if len(report.Ranked) == 0 {
		embed.Description = "No tickers in removed posts for this window."
		return embed
	}
	embed.Description = report.Commentary

	for i, s := range report.Ranked {
		if i == maxEmbedFields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
				Name:  "…",
				Value: fmt.Sprintf("%d more", len(report.Ranked)-maxEmbedFields),
			})
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("%d. $%s", i+1, s.Ticker),
			Value:  fmt.Sprintf("Score %d  📣 %d  👤 %d", s.Score, s.Mentions, s.Authors),
			Inline: true,
		})
	}
	return embed
}

func heatColor(ranked []models.TickerStat) int {
	if len(ranked) == 0 {
		return colorQuiet
	}
	switch top := ranked[0].Score; {
	case top >= scoreThresholdFrenzy:
		return colorFrenzy
	case top >= scoreThresholdHot:
		return colorHot
	case top >= scoreThresholdWarm:
		return colorWarm
	default:
		return colorQuiet
	}
}

func formatWindow(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	return d.String()
}
