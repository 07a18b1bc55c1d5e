package gacha

import (
	"errors"
	"fmt"
	"time"

	"github.com/ichi0g0y/gacha-bot/internal/catalog"
	"github.com/ichi0g0y/gacha-bot/internal/claim"
	"github.com/ichi0g0y/gacha-bot/internal/collection"
	"github.com/ichi0g0y/gacha-bot/internal/ratelimit"
)

// UserMessage renders err as a chat reply. Unknown errors get a generic text.
func UserMessage(err error) string {
	var rl *ratelimit.RateLimitedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rl):
		if rl.Kind == ratelimit.KindTooFrequent {
			return fmt.Sprintf("⏳ Slow down! Try again in %s.", formatWait(rl.RetryAfter))
		}
		return fmt.Sprintf("🛑 You've reached the roll limit. Try again in %s.", formatWait(rl.RetryAfter))
	case errors.Is(err, claim.ErrNotEligible):
		return "❌ Only the person who rolled can claim this character."
	case errors.Is(err, claim.ErrWindowClosed):
		return "❌ That character can no longer be claimed."
	case errors.Is(err, claim.ErrClaimQuotaExceeded):
		return "🛑 You've already claimed a character this hour."
	case errors.Is(err, collection.ErrNotOwned):
		return "❌ That character isn't in the collection."
	case errors.Is(err, collection.ErrSelfTransfer):
		return "❌ You can't do that with yourself."
	case errors.Is(err, catalog.ErrNoUnclaimedCharacters):
		return "😢 Every character has been claimed!"
	case errors.Is(err, ErrCancelled):
		return "Cancelled."
	}
	return "⚠️ Something went wrong. Please try again later."
}

func formatWait(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		d = time.Second
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	if s == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
