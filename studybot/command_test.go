package studybot

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(content string, authorID string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "test-message-id",
			ChannelID: "test-channel-id",
			GuildID:   "test-guild-id",
			Content:   content,
			Author: &discordgo.User{
				ID:       authorID,
				Username: "tester",
			},
		},
	}
}

func componentInteraction(customID string, userID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type: discordgo.InteractionMessageComponent,
			Data: discordgo.MessageComponentInteractionData{
				CustomID: customID,
			},
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "tester"},
			},
			Message: &discordgo.Message{
				ID:        "component-message-id",
				ChannelID: "component-channel-id",
			},
		},
	}
}

func TestRegistrySkipsInvalidCommands(t *testing.T) {
	registry := NewCommandRegistry(nil)

	registry.Register(nil)
	registry.Register(&Command{Type: EventOnMessage})
	registry.Register(&Command{Name: "oops", Type: EventType("guildBanAdd")})

	assert.Zero(t, registry.Len())
}

func TestRegistryOverwriteLastWins(t *testing.T) {
	registry := NewCommandRegistry(nil)

	var ran string
	registry.Register(
		&Command{
			Name: "ping",
			Type: EventOnMessage,
			ExecuteMessage: func(context.Context, *StudyBot, *discordgo.MessageCreate, []string) error {
				ran = "first"
				return nil
			},
		},
	)
	registry.Register(
		&Command{
			Name: "ping",
			Type: EventOnMessage,
			ExecuteMessage: func(context.Context, *StudyBot, *discordgo.MessageCreate, []string) error {
				ran = "second"
				return nil
			},
		},
	)

	assert.Equal(t, 1, registry.Len())
	cmd := registry.Get(EventOnMessage, "ping")
	require.NotNil(t, cmd)
	require.NoError(t, cmd.ExecuteMessage(context.Background(), nil, nil, nil))
	assert.Equal(t, "second", ran)
}

func TestRegistryNamesAreScopedByEventType(t *testing.T) {
	registry := NewCommandRegistry(nil)

	registry.Register(&Command{Name: "shared", Type: EventOnMessage})
	registry.Register(&Command{Name: "shared", Type: EventInteractionCreate})

	assert.Equal(t, 2, registry.Len())
	assert.NotNil(t, registry.Get(EventOnMessage, "shared"))
	assert.NotNil(t, registry.Get(EventInteractionCreate, "shared"))
	assert.Nil(t, registry.Get(EventReady, "shared"))
}

func TestHandlerMessageCreatePrefixRouting(t *testing.T) {
	bot := newTestBot(t)

	var gotArgs []string
	bot.registry.Register(
		&Command{
			Name: "echo",
			Type: EventOnMessage,
			ExecuteMessage: func(
				_ context.Context,
				_ *StudyBot,
				_ *discordgo.MessageCreate,
				args []string,
			) error {
				gotArgs = args
				return nil
			},
		},
	)

	handler := bot.handlerMessageCreate()

	// name matching is case-insensitive, args keep their case
	handler(nil, testMessage("?ECHO Hello World", "user-1"))
	assert.Equal(t, []string{"Hello", "World"}, gotArgs)
}

func TestHandlerMessageCreateIgnoresUnknownAndUnprefixed(t *testing.T) {
	bot := newTestBot(t)

	var ran bool
	bot.registry.Register(
		&Command{
			Name: "known",
			Type: EventOnMessage,
			ExecuteMessage: func(
				context.Context, *StudyBot, *discordgo.MessageCreate, []string,
			) error {
				ran = true
				return nil
			},
		},
	)

	handler := bot.handlerMessageCreate()

	// unknown command names are silently ignored
	handler(nil, testMessage("?definitelynotacommand", "user-1"))
	assert.False(t, ran)

	// messages without the prefix never route
	handler(nil, testMessage("known", "user-1"))
	assert.False(t, ran)

	// a bare prefix does nothing
	handler(nil, testMessage("?", "user-1"))
	assert.False(t, ran)

	// bot-authored messages are dropped
	msg := testMessage("?known", "bot-user")
	msg.Author.Bot = true
	handler(nil, msg)
	assert.False(t, ran)

	handler(nil, testMessage("?known", "user-1"))
	assert.True(t, ran)
}

func TestHandlerMessageCreateBroadcast(t *testing.T) {
	bot := newTestBot(t)

	var broadcastCount int
	bot.registry.Register(
		&Command{
			Name: "observer",
			Type: EventMessageCreate,
			ExecuteMessage: func(
				context.Context, *StudyBot, *discordgo.MessageCreate, []string,
			) error {
				broadcastCount++
				return nil
			},
		},
	)

	handler := bot.handlerMessageCreate()

	// broadcast commands see every message, prefixed or not
	handler(nil, testMessage("hello there", "user-1"))
	handler(nil, testMessage("?points", "user-1"))
	assert.Equal(t, 2, broadcastCount)
}

func TestHandlerMessageCreatePausedBot(t *testing.T) {
	bot := newTestBot(t)

	var ran bool
	bot.registry.Register(
		&Command{
			Name: "noop",
			Type: EventOnMessage,
			ExecuteMessage: func(
				context.Context, *StudyBot, *discordgo.MessageCreate, []string,
			) error {
				ran = true
				return nil
			},
		},
	)

	bot.paused.Store(true)
	bot.handlerMessageCreate()(nil, testMessage("?noop", "user-1"))
	assert.False(t, ran)

	bot.paused.Store(false)
	bot.handlerMessageCreate()(nil, testMessage("?noop", "user-1"))
	assert.True(t, ran)
}

func TestCommandErrorDoesNotStopSiblings(t *testing.T) {
	bot := newTestBot(t)

	var secondRan bool
	bot.registry.Register(
		&Command{
			Name: "broken",
			Type: EventMessageCreate,
			ExecuteMessage: func(
				context.Context, *StudyBot, *discordgo.MessageCreate, []string,
			) error {
				return errors.New("boom")
			},
		},
	)
	bot.registry.Register(
		&Command{
			Name: "healthy",
			Type: EventMessageCreate,
			ExecuteMessage: func(
				context.Context, *StudyBot, *discordgo.MessageCreate, []string,
			) error {
				secondRan = true
				return nil
			},
		},
	)

	assert.NotPanics(
		t, func() {
			bot.handlerMessageCreate()(nil, testMessage("anything", "user-1"))
		},
	)
	assert.True(t, secondRan)
}

func TestCommandPanicIsContained(t *testing.T) {
	bot := newTestBot(t)

	bot.registry.Register(
		&Command{
			Name: "panics",
			Type: EventOnMessage,
			ExecuteMessage: func(
				context.Context, *StudyBot, *discordgo.MessageCreate, []string,
			) error {
				panic("command panic")
			},
		},
	)

	assert.NotPanics(
		t, func() {
			bot.handlerMessageCreate()(nil, testMessage("?panics", "user-1"))
		},
	)
}

func TestHandlerInteractionCreateRouting(t *testing.T) {
	bot := newTestBot(t)

	var gotCustomID string
	bot.registry.Register(
		&Command{
			Name: "test_button",
			Type: EventInteractionCreate,
			ExecuteInteraction: func(
				_ context.Context,
				_ *StudyBot,
				i *discordgo.InteractionCreate,
			) error {
				gotCustomID = i.MessageComponentData().CustomID
				return nil
			},
		},
	)

	handler := bot.handlerInteractionCreate()

	handler(nil, componentInteraction("test_button", "user-1"))
	assert.Equal(t, "test_button", gotCustomID)

	// unregistered CustomIDs are ignored
	gotCustomID = ""
	assert.NotPanics(
		t, func() {
			handler(nil, componentInteraction("unregistered_button", "user-1"))
		},
	)
	assert.Empty(t, gotCustomID)

	// non-component interactions are ignored entirely
	assert.NotPanics(
		t, func() {
			handler(
				nil, &discordgo.InteractionCreate{
					Interaction: &discordgo.Interaction{
						Type: discordgo.InteractionApplicationCommand,
						Data: discordgo.ApplicationCommandInteractionData{
							Name: "test_button",
						},
						Member: &discordgo.Member{
							User: &discordgo.User{ID: "user-1"},
						},
					},
				},
			)
		},
	)
	assert.Empty(t, gotCustomID)
}

func TestHandlerVoiceStateUpdateBroadcast(t *testing.T) {
	bot := newTestBot(t)

	var seen int
	bot.registry.Register(
		&Command{
			Name: "voiceObserver",
			Type: EventVoiceStateUpdate,
			ExecuteVoiceState: func(
				context.Context, *StudyBot, *discordgo.VoiceStateUpdate,
			) error {
				seen++
				return nil
			},
		},
	)

	bot.handlerVoiceStateUpdate()(
		nil, &discordgo.VoiceStateUpdate{
			VoiceState: &discordgo.VoiceState{
				UserID:    "user-1",
				ChannelID: "vc-1",
				GuildID:   "guild-1",
			},
		},
	)
	assert.Equal(t, 1, seen)
}

func TestRegisterSlashCommands(t *testing.T) {
	bot := newTestBot(t)
	mockSession := bot.discord.session.(*mockDiscordSession)

	created, err := bot.registerSlashCommands()
	require.NoError(t, err)

	// submit, rate and ask declare application commands
	require.Len(t, created, 3)
	names := make([]string, 0, len(created))
	for _, c := range created {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(
		t,
		[]string{"submitresource", customIDRateResource, "askdoubt"},
		names,
	)
	require.Len(t, mockSession.bulkOverwrites, 1)

	// commands without an App declaration never reach discord
	pushed := mockSession.bulkOverwrites[0]
	for _, c := range pushed {
		assert.NotEqual(t, "points", c.Name)
	}
}

func TestRegisterSlashCommandsEmptyRegistry(t *testing.T) {
	bot := newTestBot(t)
	mockSession := bot.discord.session.(*mockDiscordSession)
	bot.registry = NewCommandRegistry(bot.logger)

	created, err := bot.registerSlashCommands()
	require.NoError(t, err)
	assert.Nil(t, created)

	// no bulk overwrite call is made for an empty set
	assert.Empty(t, mockSession.bulkOverwrites)
}
