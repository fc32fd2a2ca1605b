package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// DiscordTransport delivers messages as bot DMs. Opening a DM is a create-or-
// reuse on Discord's side, so OpenChannel is safe to call per dispatch.
type DiscordTransport struct {
	session *discordgo.Session
}

func NewDiscordTransport(botToken string) (*DiscordTransport, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &DiscordTransport{session: session}, nil
}

func (t *DiscordTransport) OpenChannel(ctx context.Context, destinationID string) (string, error) {
	channel, err := t.session.UserChannelCreate(destinationID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("creating DM channel for %s: %w", destinationID, err)
	}
	return channel.ID, nil
}

func (t *DiscordTransport) Post(ctx context.Context, channelID, content string) error {
	if _, err := t.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}
