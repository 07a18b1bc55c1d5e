// Package chatbot turns chat messages into gacha commands and writes the
// replies back to the channel.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ichi0g0y/gacha-bot/internal/claim"
	"github.com/ichi0g0y/gacha-bot/internal/gacha"
	"github.com/ichi0g0y/gacha-bot/internal/interact"
	"github.com/ichi0g0y/gacha-bot/internal/shared/logger"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

const (
	commandPrefix = "!"
	// Twitch の1メッセージ上限は500文字
	maxReplyLength = 450
)

// Sayer sends a chat line to a channel.
type Sayer interface {
	Say(channel, text string)
}

// Message is one inbound chat message.
type Message struct {
	Channel string
	// UserID はログイン名（小文字）。スコープ内のユーザー識別子として使う
	UserID      string
	DisplayName string
	Text        string
	Badges      map[string]int
}

func (m Message) privileged() bool {
	if m.UserID != "" && m.UserID == m.Channel {
		return true
	}
	_, broadcaster := m.Badges["broadcaster"]
	_, moderator := m.Badges["moderator"]
	return broadcaster || moderator
}

// Options tune the interactive commands.
type Options struct {
	ConfirmTimeout time.Duration
	SelectTimeout  time.Duration
}

var DefaultOptions = Options{
	ConfirmTimeout: 30 * time.Second,
	SelectTimeout:  60 * time.Second,
}

// Bot dispatches commands to the gacha service.
type Bot struct {
	svc    *gacha.Service
	sayer  Sayer
	broker *interact.Broker
	opts   Options

	wg sync.WaitGroup
}

func NewBot(svc *gacha.Service, sayer Sayer, opts Options) *Bot {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultOptions.ConfirmTimeout
	}
	if opts.SelectTimeout <= 0 {
		opts.SelectTimeout = DefaultOptions.SelectTimeout
	}
	return &Bot{
		svc:    svc,
		sayer:  sayer,
		broker: interact.NewBroker(),
		opts:   opts,
	}
}

func parseCommand(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, commandPrefix) {
		return "", "", false
	}
	text = strings.TrimPrefix(text, commandPrefix)
	cmd, args, _ = strings.Cut(text, " ")
	cmd = strings.ToLower(cmd)
	if cmd == "" {
		return "", "", false
	}
	return cmd, strings.TrimSpace(args), true
}

func normalizeUser(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// Handle processes msg. Commands that wait for a follow-up run in their own
// goroutine so later messages can answer them.
func (b *Bot) Handle(ctx context.Context, msg Message) {
	cmd, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	msg.UserID = normalizeUser(msg.UserID)
	if msg.DisplayName == "" {
		msg.DisplayName = msg.UserID
	}

	switch cmd {
	case "yes", "no", "pick":
		if !b.broker.Deliver(interact.Event{ScopeID: msg.Channel, UserID: msg.UserID, Command: cmd, Args: args}) {
			logger.Debug("Follow-up without a pending interaction",
				zap.String("channel", msg.Channel),
				zap.String("user_id", msg.UserID),
				zap.String("command", cmd))
		}
		return
	case "remove", "trade":
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.dispatch(ctx, msg, cmd, args)
		}()
		return
	}
	b.dispatch(ctx, msg, cmd, args)
}

// Wait blocks until every interactive command has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) dispatch(ctx context.Context, msg Message, cmd, args string) {
	var err error
	switch cmd {
	case "roll":
		err = b.roll(ctx, msg)
	case "claim":
		err = b.claim(ctx, msg, args)
	case "collection":
		err = b.collection(ctx, msg, args)
	case "give":
		err = b.give(ctx, msg, args)
	case "remove":
		err = b.remove(ctx, msg, args)
	case "leaderboard":
		err = b.leaderboard(ctx, msg)
	case "trade":
		err = b.trade(ctx, msg, args)
	case "setspawn":
		err = b.setSpawn(ctx, msg, args)
	default:
		return
	}
	if err != nil {
		logger.Debug("Command failed",
			zap.String("channel", msg.Channel),
			zap.String("user_id", msg.UserID),
			zap.String("command", cmd),
			zap.Error(err))
		b.reply(msg, gacha.UserMessage(err))
	}
}

func (b *Bot) reply(msg Message, text string) {
	b.sayer.Say(msg.Channel, fmt.Sprintf("@%s %s", msg.DisplayName, text))
}

// sayLines joins lines into as few chat messages as fit the length limit.
func (b *Bot) sayLines(channel, header string, lines []string) {
	cur := header
	for _, line := range lines {
		if len(cur)+len(line)+3 > maxReplyLength {
			b.sayer.Say(channel, cur)
			cur = line
			continue
		}
		if cur == "" {
			cur = line
		} else {
			cur += " | " + line
		}
	}
	if cur != "" {
		b.sayer.Say(channel, cur)
	}
}

func (b *Bot) roll(ctx context.Context, msg Message) error {
	w, err := b.svc.Roll(ctx, msg.Channel, msg.UserID)
	if err != nil {
		return err
	}
	b.reply(msg, fmt.Sprintf("%s You found %s (%s)! Type !claim within %s to keep it.",
		rarityMark(w.Character.Rarity), w.Character.Name, w.Character.Rarity,
		time.Until(w.ExpiresAt).Round(time.Second)))
	return nil
}

func (b *Bot) claim(ctx context.Context, msg Message, args string) error {
	var (
		res gacha.ClaimResult
		err error
	)
	if args == "" {
		res, err = b.svc.ClaimLatest(ctx, msg.Channel, msg.UserID)
	} else {
		res, err = b.svc.Claim(ctx, msg.Channel, args, msg.UserID)
	}
	if err != nil {
		return err
	}
	b.sayer.Say(msg.Channel, fmt.Sprintf("%s claimed %s!", msg.DisplayName, res.Owned.Name))
	return nil
}

func (b *Bot) collection(ctx context.Context, msg Message, args string) error {
	target := msg.UserID
	if args != "" {
		target = normalizeUser(args)
	}
	items, err := b.svc.Collection(ctx, msg.Channel, target)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		if target == msg.UserID {
			b.reply(msg, "You haven't collected any characters yet.")
		} else {
			b.reply(msg, fmt.Sprintf("%s hasn't collected any characters yet.", target))
		}
		return nil
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s (%s)", item.Name, item.Rarity))
	}
	b.sayLines(msg.Channel, fmt.Sprintf("%s's collection [%d]:", target, len(items)), lines)
	return nil
}

func (b *Bot) give(ctx context.Context, msg Message, args string) error {
	to, name, _ := strings.Cut(args, " ")
	to = normalizeUser(to)
	name = strings.TrimSpace(name)
	if to == "" || name == "" {
		b.reply(msg, "Usage: !give <user> <character>")
		return nil
	}

	moved, err := b.svc.Give(ctx, msg.Channel, msg.UserID, to, name)
	if err != nil {
		return err
	}
	b.sayer.Say(msg.Channel, fmt.Sprintf("%s gave %s to %s!", msg.DisplayName, moved.Name, to))
	return nil
}

func (b *Bot) remove(ctx context.Context, msg Message, args string) error {
	if args == "" {
		b.reply(msg, "Usage: !remove <character>")
		return nil
	}

	confirm := func(ctx context.Context, owned types.OwnedCharacter) (bool, error) {
		b.reply(msg, fmt.Sprintf("Remove %s from your collection? Answer !yes or !no within %s.",
			owned.Name, b.opts.ConfirmTimeout))
		ev, err := b.broker.Await(ctx, interact.From(msg.Channel, msg.UserID, "yes", "no"), b.opts.ConfirmTimeout)
		if err != nil {
			return false, err
		}
		return ev.Command == "yes", nil
	}

	removed, err := b.svc.Remove(ctx, msg.Channel, msg.UserID, args, confirm)
	if err != nil {
		if errors.Is(err, gacha.ErrCancelled) {
			b.reply(msg, "Nothing was removed.")
			return nil
		}
		return err
	}
	b.reply(msg, fmt.Sprintf("%s was removed from your collection.", removed.Name))
	return nil
}

func (b *Bot) leaderboard(ctx context.Context, msg Message) error {
	board, err := b.svc.Leaderboard(ctx, msg.Channel)
	if err != nil {
		return err
	}
	if len(board) == 0 {
		b.sayer.Say(msg.Channel, "Nobody has collected a character yet.")
		return nil
	}

	lines := make([]string, 0, len(board))
	for i, entry := range board {
		lines = append(lines, fmt.Sprintf("%d. %s (%d)", i+1, entry.UserID, entry.Total))
	}
	b.sayLines(msg.Channel, "🏆 Leaderboard:", lines)
	return nil
}

func (b *Bot) trade(ctx context.Context, msg Message, args string) error {
	partner := normalizeUser(args)
	if partner == "" {
		b.reply(msg, "Usage: !trade <user>")
		return nil
	}

	b.sayer.Say(msg.Channel, fmt.Sprintf("Trade between %s and %s: both pick a character with !pick <character> within %s.",
		msg.UserID, partner, b.opts.SelectTimeout))
	selectFn := func(ctx context.Context, userID string) (string, error) {
		ev, err := b.broker.Await(ctx, interact.From(msg.Channel, userID, "pick"), b.opts.SelectTimeout)
		if err != nil {
			return "", err
		}
		return ev.Args, nil
	}

	res, err := b.svc.Trade(ctx, msg.Channel, msg.UserID, partner, selectFn)
	if err != nil {
		if errors.Is(err, gacha.ErrCancelled) {
			b.sayer.Say(msg.Channel, fmt.Sprintf("Trade between %s and %s was cancelled.", msg.UserID, partner))
			return nil
		}
		return err
	}
	b.sayer.Say(msg.Channel, fmt.Sprintf("Trade complete! %s got %s and %s got %s.",
		partner, res.ToB.Name, msg.UserID, res.ToA.Name))
	return nil
}

func (b *Bot) setSpawn(ctx context.Context, msg Message, args string) error {
	if !msg.privileged() {
		b.reply(msg, "Only the broadcaster or a moderator can set the spawn channel.")
		return nil
	}

	// スコープはチャンネル単位なので、スポーン先は自チャンネルのみ
	channel := msg.Channel
	switch arg := strings.TrimPrefix(strings.ToLower(args), "#"); arg {
	case "", "on", msg.Channel:
	case "off":
		channel = ""
	default:
		b.reply(msg, "Usage: !setspawn [on|off] (spawns appear in this channel)")
		return nil
	}
	if err := b.svc.SetSpawnChannel(ctx, msg.Channel, channel); err != nil {
		return err
	}
	if channel == "" {
		b.reply(msg, "Random spawns are disabled.")
		return nil
	}
	b.reply(msg, fmt.Sprintf("✅ Characters will now spawn in #%s!", channel))
	return nil
}

func rarityMark(r types.Rarity) string {
	switch r {
	case types.RarityLegendary:
		return "🌟"
	case types.RarityEpic:
		return "💜"
	case types.RarityRare:
		return "💙"
	default:
		return "⚪"
	}
}

// AnnounceSpawn implements spawner.Announcer.
func (b *Bot) AnnounceSpawn(_ context.Context, channel string, w *claim.Window) error {
	b.sayer.Say(channel, fmt.Sprintf("🔥 A wild %s appears! %s Rarity: %s. Type !claim %s within %s.",
		w.Character.Name, rarityMark(w.Character.Rarity), w.Character.Rarity, w.ID,
		w.ExpiresAt.Sub(w.OpenedAt).Round(time.Second)))
	return nil
}

// AnnounceOutcome implements spawner.Announcer. Claims are already
// announced by the claim command, so only expiries are reported.
func (b *Bot) AnnounceOutcome(_ context.Context, channel string, w *claim.Window, out claim.Outcome) error {
	if out.State == claim.StateExpired {
		b.sayer.Say(channel, fmt.Sprintf("⏳ %s disappeared!", w.Character.Name))
	}
	return nil
}
