package studybot

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSentMessage struct {
	ChannelID string
	Content   string
}

// mockDiscordSession is a mock implementation of the DiscordSessionHandler
// interface. It records calls and serves canned channel/member data instead
// of performing actual operations.
type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar

	mu sync.Mutex

	// channels resolvable via Channel; lookups for IDs not present
	// return channelErr[id] if set, otherwise a synthesized channel
	channels   map[string]*discordgo.Channel
	channelErr map[string]error

	// member counts returned by VoiceChannelMemberCount
	memberCounts map[string]int

	// errors returned by ChannelDelete, keyed by channel ID
	deleteErr map[string]error

	deletedChannels      []string
	sentMessages         []mockSentMessage
	sentComplex          []*discordgo.MessageSend
	sentReplies          []mockSentMessage
	deletedMessages      []mockSentMessage
	interactionResponses []*discordgo.InteractionResponse
	bulkOverwrites       [][]*discordgo.ApplicationCommand
	bulkOverwriteErr     error
	createdChannels      []discordgo.GuildChannelCreateData
	movedMembers         map[string]string
	customStatus         string
}

func newMockDiscordSession() *mockDiscordSession {
	m := &mockDiscordSession{
		logLevel:     &slog.LevelVar{},
		channels:     map[string]*discordgo.Channel{},
		channelErr:   map[string]error{},
		memberCounts: map[string]int{},
		deleteErr:    map[string]error{},
		movedMembers: map[string]string{},
	}
	m.logLevel.Set(slog.LevelWarn)
	m.logger = slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     m.logLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord_session_handler")
	return m
}

func (d *mockDiscordSession) Open() error {
	d.logger.Info("opened session")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	d.logger.Info("added handler")
	return func() {
		d.logger.Info("mock-removed handler function")
	}
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentMessages = append(
		d.sentMessages,
		mockSentMessage{ChannelID: channelID, Content: message},
	)
	return &discordgo.Message{Content: message, ChannelID: channelID}, nil
}

func (d *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentComplex = append(d.sentComplex, data)
	return &discordgo.Message{ChannelID: channelID, ID: "mock-message-id"}, nil
}

func (d *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentReplies = append(
		d.sentReplies,
		mockSentMessage{ChannelID: channelID, Content: content},
	)
	msg := &discordgo.Message{Content: content, ChannelID: channelID}
	if reference != nil {
		msg.GuildID = reference.GuildID
	}
	return msg, nil
}

func (d *mockDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletedMessages = append(
		d.deletedMessages,
		mockSentMessage{ChannelID: channelID, Content: messageID},
	)
	return nil
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info(
		"overwrite application commands",
		"app_id", appID,
		"guild_id", guildID,
	)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bulkOverwriteErr != nil {
		return nil, d.bulkOverwriteErr
	}
	d.bulkOverwrites = append(d.bulkOverwrites, commands)
	cmds := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		cmds[i] = &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
		}
	}
	return cmds, nil
}

func (d *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interactionResponses = append(d.interactionResponses, resp)
	return nil
}

func (d *mockDiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	_ *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info("mock editing interaction response", "interaction", interaction)
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.channelErr[channelID]; ok {
		return nil, err
	}
	if ch, ok := d.channels[channelID]; ok {
		return ch, nil
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (d *mockDiscordSession) ChannelDelete(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.deleteErr[channelID]; ok {
		return nil, err
	}
	d.deletedChannels = append(d.deletedChannels, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (d *mockDiscordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createdChannels = append(d.createdChannels, data)
	return &discordgo.Channel{
		ID:      "mock-channel-id",
		GuildID: guildID,
		Name:    data.Name,
		Type:    data.Type,
	}, nil
}

func (d *mockDiscordSession) ChannelPermissionSet(
	channelID string,
	targetID string,
	targetType discordgo.PermissionOverwriteType,
	allow int64,
	deny int64,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info(
		"mock setting channel permissions",
		"channel_id", channelID,
		"target_id", targetID,
		"target_type", targetType,
		"allow", allow,
		"deny", deny,
	)
	return nil
}

func (d *mockDiscordSession) GuildMemberMove(
	_ string,
	userID string,
	channelID *string,
	_ ...discordgo.RequestOption,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.movedMembers[userID] = stringPointerValue(channelID)
	return nil
}

func (d *mockDiscordSession) VoiceChannelMemberCount(
	_ string,
	channelID string,
) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memberCounts[channelID], nil
}

func (d *mockDiscordSession) UpdateCustomStatus(status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customStatus = status
	return nil
}

func (d *mockDiscordSession) SetHTTPClient(_ *http.Client) {
	d.logger.Info("mock setting HTTP client")
}

func (d *mockDiscordSession) SetIdentify(i discordgo.Identify) {
	d.logger.Info("mock setting identify", "identify", i)
}

func (d *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logLevel.Set(lvl)
	return nil
}

func TestNewSession(t *testing.T) {
	bot := newTestBot(t)

	session, err := bot.discord.newSession()
	require.NoError(t, err)
	require.NotNil(t, session)
}

func TestPauseResume(t *testing.T) {
	bot := newTestBot(t)
	mockSession := bot.discord.session.(*mockDiscordSession)

	ctx := context.Background()
	assert.False(t, bot.Paused())
	assert.True(t, bot.Pause(ctx))
	assert.True(t, bot.Paused())
	assert.Equal(t, "paused for maintenance", mockSession.customStatus)

	// pausing twice is a no-op
	assert.False(t, bot.Pause(ctx))

	assert.True(t, bot.Resume(ctx))
	assert.False(t, bot.Paused())
	assert.Equal(t, bot.config.Discord.CustomStatus, mockSession.customStatus)
	assert.False(t, bot.Resume(ctx))
}
