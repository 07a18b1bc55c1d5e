package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	twitchIRC "github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
)

// Gateway connects a Bot to Twitch chat.
type Gateway struct {
	client   *twitchIRC.Client
	channels []string
	bot      *Bot
}

// NewTwitchClient creates an IRC client logged in as nick.
func NewTwitchClient(nick, token string) *twitchIRC.Client {
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return twitchIRC.NewClient(strings.ToLower(nick), token)
}

// NewGateway routes private messages of client into bot.
func NewGateway(client *twitchIRC.Client, bot *Bot, channels []string) *Gateway {
	return &Gateway{client: client, channels: channels, bot: bot}
}

// Run joins the channels and blocks until ctx ends or the connection fails.
func (g *Gateway) Run(ctx context.Context) error {
	if len(g.channels) == 0 {
		return errors.New("no channels to join")
	}

	g.client.OnConnect(func() {
		logger.Info("Connected to Twitch chat", zap.Strings("channels", g.channels))
	})
	g.client.OnSelfJoinMessage(func(message twitchIRC.UserJoinMessage) {
		logger.Info("Joined channel", zap.String("channel", message.Channel))
	})
	g.client.OnPrivateMessage(func(message twitchIRC.PrivateMessage) {
		g.bot.Handle(ctx, Message{
			Channel:     message.Channel,
			UserID:      message.User.Name,
			DisplayName: message.User.DisplayName,
			Text:        message.Message,
			Badges:      message.User.Badges,
		})
	})
	g.client.Join(g.channels...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.client.Connect()
	}()

	select {
	case <-ctx.Done():
		if err := g.client.Disconnect(); err != nil {
			logger.Warn("Failed to disconnect from Twitch chat", zap.Error(err))
		}
		<-errCh
		g.bot.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, twitchIRC.ErrClientDisconnected) {
			return nil
		}
		return fmt.Errorf("twitch chat connection failed: %w", err)
	}
}
