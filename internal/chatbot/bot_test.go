package chatbot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ichi0g0y/gacha-bot/internal/catalog"
	"github.com/ichi0g0y/gacha-bot/internal/claim"
	"github.com/ichi0g0y/gacha-bot/internal/gacha"
	"github.com/ichi0g0y/gacha-bot/internal/scope"
	"github.com/ichi0g0y/gacha-bot/internal/spawner"
	"github.com/ichi0g0y/gacha-bot/internal/types"
)

const testChannel = "guild"

type fakeSayer struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeSayer) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, channel+": "+text)
}

func (f *fakeSayer) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) == 0 {
		return ""
	}
	return f.lines[len(f.lines)-1]
}

func (f *fakeSayer) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func newTestBot(t *testing.T, defs ...types.CharacterDefinition) (*Bot, *gacha.Service, *fakeSayer) {
	t.Helper()
	if len(defs) == 0 {
		defs = []types.CharacterDefinition{{Name: "Colossus", Rarity: types.RarityRare, Weight: 0.15}}
	}
	pool, err := catalog.NewPool(defs)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	svc := gacha.NewService(gacha.Deps{
		Registry: scope.NewRegistry(scope.NewMemoryStore()),
		Pool:     pool,
		Arbiter:  claim.NewArbiter(nil),
	}, gacha.DefaultConfig)
	sayer := &fakeSayer{}
	bot := NewBot(svc, sayer, Options{ConfirmTimeout: 2 * time.Second, SelectTimeout: 2 * time.Second})
	return bot, svc, sayer
}

func send(bot *Bot, user, text string) {
	bot.Handle(context.Background(), Message{Channel: testChannel, UserID: user, Text: text})
}

func waitPending(t *testing.T, bot *Bot, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bot.broker.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("pending interactions: got=%d want=%d", bot.broker.Pending(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func ownedNames(t *testing.T, svc *gacha.Service, user string) []string {
	t.Helper()
	items, err := svc.Collection(context.Background(), testChannel, user)
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return names
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantCmd  string
		wantArgs string
		wantOK   bool
	}{
		{text: "!roll", wantCmd: "roll", wantOK: true},
		{text: "  !GIVE @Bob Deadpool  ", wantCmd: "give", wantArgs: "@Bob Deadpool", wantOK: true},
		{text: "!claim abc123", wantCmd: "claim", wantArgs: "abc123", wantOK: true},
		{text: "hello !roll", wantOK: false},
		{text: "!", wantOK: false},
	}

	for _, tt := range tests {
		cmd, args, ok := parseCommand(tt.text)
		if ok != tt.wantOK || cmd != tt.wantCmd || args != tt.wantArgs {
			t.Fatalf("parseCommand(%q): got=(%q,%q,%v) want=(%q,%q,%v)",
				tt.text, cmd, args, ok, tt.wantCmd, tt.wantArgs, tt.wantOK)
		}
	}
}

func TestRollAndClaim(t *testing.T) {
	bot, svc, sayer := newTestBot(t)

	send(bot, "Alice", "!roll")
	if got := sayer.last(); !strings.Contains(got, "@alice You found Colossus") {
		t.Fatalf("unexpected roll reply: %q", got)
	}

	send(bot, "bob", "!claim")
	if got := sayer.last(); !strings.Contains(got, "can no longer be claimed") {
		t.Fatalf("unexpected reply for other user: %q", got)
	}

	send(bot, "alice", "!claim")
	if got := sayer.last(); got != "guild: alice claimed Colossus!" {
		t.Fatalf("unexpected claim reply: %q", got)
	}
	if names := ownedNames(t, svc, "alice"); len(names) != 1 || names[0] != "Colossus" {
		t.Fatalf("unexpected collection: %v", names)
	}

	send(bot, "alice", "!collection")
	if got := sayer.last(); !strings.Contains(got, "alice's collection [1]: | Colossus (Rare)") {
		t.Fatalf("unexpected collection reply: %q", got)
	}
}

func TestRollThrottled(t *testing.T) {
	bot, _, sayer := newTestBot(t,
		types.CharacterDefinition{Name: "Colossus", Rarity: types.RarityRare, Weight: 0.15},
		types.CharacterDefinition{Name: "Dogpool", Rarity: types.RarityLegendary, Weight: 0.02},
	)

	send(bot, "alice", "!roll")
	send(bot, "alice", "!roll")
	if got := sayer.last(); !strings.Contains(got, "Slow down") {
		t.Fatalf("expected throttle reply, got=%q", got)
	}
}

func TestGive(t *testing.T) {
	bot, svc, sayer := newTestBot(t)

	send(bot, "alice", "!roll")
	send(bot, "alice", "!claim")
	send(bot, "alice", "!give @Bob colossus")

	if got := sayer.last(); got != "guild: alice gave Colossus to bob!" {
		t.Fatalf("unexpected give reply: %q", got)
	}
	if names := ownedNames(t, svc, "bob"); len(names) != 1 {
		t.Fatalf("bob should own the character: %v", names)
	}

	send(bot, "alice", "!give bob Colossus")
	if got := sayer.last(); !strings.Contains(got, "isn't in the collection") {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestRemoveConfirm(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		wantOwned int
		wantReply string
	}{
		{name: "yes", answer: "!yes", wantOwned: 0, wantReply: "Colossus was removed"},
		{name: "no", answer: "!no", wantOwned: 1, wantReply: "Nothing was removed."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, svc, sayer := newTestBot(t)
			send(bot, "alice", "!roll")
			send(bot, "alice", "!claim")

			send(bot, "alice", "!remove Colossus")
			waitPending(t, bot, 1)

			// 他人の回答は無視される
			send(bot, "bob", "!yes")
			if bot.broker.Pending() != 1 {
				t.Fatalf("answer from another user must not be consumed")
			}

			send(bot, "alice", tt.answer)
			bot.Wait()

			if names := ownedNames(t, svc, "alice"); len(names) != tt.wantOwned {
				t.Fatalf("owned mismatch: got=%d want=%d", len(names), tt.wantOwned)
			}
			if got := sayer.last(); !strings.Contains(got, tt.wantReply) {
				t.Fatalf("unexpected reply: got=%q want substring %q", got, tt.wantReply)
			}
		})
	}
}

func TestTrade(t *testing.T) {
	bot, svc, sayer := newTestBot(t,
		types.CharacterDefinition{Name: "Colossus", Rarity: types.RarityRare, Weight: 0.15},
		types.CharacterDefinition{Name: "Dogpool", Rarity: types.RarityLegendary, Weight: 0.02},
	)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		w, err := svc.Spawn(ctx, testChannel)
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		if _, err := svc.Claim(ctx, testChannel, w.ID, user); err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
	}
	aliceHad := ownedNames(t, svc, "alice")[0]
	bobHad := ownedNames(t, svc, "bob")[0]

	send(bot, "alice", "!trade @bob")
	waitPending(t, bot, 2)
	send(bot, "bob", "!pick "+bobHad)
	send(bot, "alice", "!pick "+aliceHad)
	bot.Wait()

	if got := ownedNames(t, svc, "alice"); len(got) != 1 || got[0] != bobHad {
		t.Fatalf("alice collection mismatch: got=%v want=[%s]", got, bobHad)
	}
	if got := ownedNames(t, svc, "bob"); len(got) != 1 || got[0] != aliceHad {
		t.Fatalf("bob collection mismatch: got=%v want=[%s]", got, aliceHad)
	}
	if got := sayer.last(); !strings.Contains(got, "Trade complete!") {
		t.Fatalf("unexpected trade reply: %q", got)
	}
}

func TestSetSpawnRequiresPrivilege(t *testing.T) {
	bot, svc, sayer := newTestBot(t)
	ctx := context.Background()

	send(bot, "viewer", "!setspawn")
	if got := sayer.last(); !strings.Contains(got, "Only the broadcaster or a moderator") {
		t.Fatalf("unexpected reply: %q", got)
	}

	bot.Handle(ctx, Message{
		Channel: testChannel,
		UserID:  "mod",
		Text:    "!setspawn",
		Badges:  map[string]int{"moderator": 1},
	})
	channel, err := svc.SpawnChannel(ctx, testChannel)
	if err != nil {
		t.Fatalf("SpawnChannel failed: %v", err)
	}
	if channel != testChannel {
		t.Fatalf("spawn channel mismatch: got=%q want=%q", channel, testChannel)
	}

	send(bot, testChannel, "!setspawn off")
	channel, _ = svc.SpawnChannel(ctx, testChannel)
	if channel != "" {
		t.Fatalf("broadcaster should be able to disable spawns, got=%q", channel)
	}
}

func TestAnnouncer(t *testing.T) {
	bot, svc, sayer := newTestBot(t)
	ctx := context.Background()

	w, err := svc.Spawn(ctx, testChannel)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := bot.AnnounceSpawn(ctx, testChannel, w); err != nil {
		t.Fatalf("AnnounceSpawn failed: %v", err)
	}
	if got := sayer.last(); !strings.Contains(got, "A wild Colossus appears!") || !strings.Contains(got, "!claim "+w.ID) {
		t.Fatalf("unexpected announcement: %q", got)
	}

	before := len(sayer.all())
	_ = bot.AnnounceOutcome(ctx, testChannel, w, claim.Outcome{State: claim.StateClaimed, Claimant: "alice"})
	if len(sayer.all()) != before {
		t.Fatalf("claimed outcome should not be announced twice")
	}
	_ = bot.AnnounceOutcome(ctx, testChannel, w, claim.Outcome{State: claim.StateExpired})
	if got := sayer.last(); got != "guild: ⏳ Colossus disappeared!" {
		t.Fatalf("unexpected expiry announcement: %q", got)
	}
}

func TestSayLinesSplitsLongReplies(t *testing.T) {
	bot, _, sayer := newTestBot(t)

	lines := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		lines = append(lines, "Some Character Name (Common)")
	}
	bot.sayLines(testChannel, "header:", lines)

	out := sayer.all()
	if len(out) < 2 {
		t.Fatalf("expected reply to be split, got=%d messages", len(out))
	}
	for _, line := range out {
		if len(line) > maxReplyLength+len(testChannel)+2 {
			t.Fatalf("reply too long: %d", len(line))
		}
	}
}

func TestSetSpawnStaysInOwnChannel(t *testing.T) {
	bot, svc, sayer := newTestBot(t)
	ctx := context.Background()

	send(bot, testChannel, "!setspawn #other")
	if got := sayer.last(); !strings.Contains(got, "Usage: !setspawn") {
		t.Fatalf("foreign channel should be refused, got=%q", got)
	}
	if channel, _ := svc.SpawnChannel(ctx, testChannel); channel != "" {
		t.Fatalf("spawn channel must stay unset: got=%q", channel)
	}

	send(bot, testChannel, "!setspawn on")
	scheduler := spawner.NewScheduler(svc, bot, time.Minute, time.Minute)
	if n := scheduler.Tick(ctx); n != 1 {
		t.Fatalf("unexpected spawn count: got=%d want=1", n)
	}

	pending := svc.PendingSpawns(testChannel)
	if len(pending) != 1 {
		t.Fatalf("unexpected pending spawns: got=%d want=1", len(pending))
	}
	spawnID := pending[0].ID
	if got := sayer.last(); !strings.HasPrefix(got, testChannel+": 🔥 A wild Colossus appears!") {
		t.Fatalf("spawn should be announced in the scope channel, got=%q", got)
	}

	send(bot, "viewer", "!claim "+spawnID)
	if got := sayer.last(); got != "guild: viewer claimed Colossus!" {
		t.Fatalf("unexpected claim reply: %q", got)
	}
	scheduler.Wait()
}
