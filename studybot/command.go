package studybot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// EventType identifies which gateway event a [Command] handles. The set is
// closed: descriptors declaring anything else are rejected at registration.
type EventType string

const (
	// EventOnMessage is a prefixed text command, routed by name from the
	// first token after the command prefix
	EventOnMessage EventType = "onMessage"

	// EventInteractionCreate is a component interaction, routed by the
	// component's CustomID
	EventInteractionCreate EventType = "interactionCreate"

	// EventMessageCreate receives every (non-bot) message, unrouted
	EventMessageCreate EventType = "messageCreate"

	// EventReady runs once the gateway session is ready
	EventReady EventType = "ready"

	// EventVoiceStateUpdate receives voice join/leave/move events
	EventVoiceStateUpdate EventType = "voiceStateUpdate"
)

var knownEventTypes = map[EventType]bool{
	EventOnMessage:         true,
	EventInteractionCreate: true,
	EventMessageCreate:     true,
	EventReady:             true,
	EventVoiceStateUpdate:  true,
}

// Command is a closed descriptor for one named handler. Exactly one of the
// Execute functions should be set, matching Type. Commands with a non-nil
// App are pushed to Discord's application command endpoint at startup.
type Command struct {
	// Name routes the command: the prefix token for onMessage, the
	// component CustomID for interactionCreate, informational otherwise
	Name string

	Type EventType

	Description string

	// App, when set, declares the command as a Discord application command
	App *discordgo.ApplicationCommand

	ExecuteMessage     func(ctx context.Context, b *StudyBot, m *discordgo.MessageCreate, args []string) error
	ExecuteInteraction func(ctx context.Context, b *StudyBot, i *discordgo.InteractionCreate) error
	ExecuteVoiceState  func(ctx context.Context, b *StudyBot, v *discordgo.VoiceStateUpdate) error
	ExecuteReady       func(ctx context.Context, b *StudyBot, r *discordgo.Ready) error
}

func (c *Command) String() string {
	return fmt.Sprintf("%s/%s", c.Type, c.Name)
}

// CommandRegistry holds the explicit command set, keyed first by event type
// and then by name.
type CommandRegistry struct {
	logger   *slog.Logger
	commands map[EventType]map[string]*Command
}

func NewCommandRegistry(logger *slog.Logger) *CommandRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRegistry{
		logger:   logger.With(loggerNameKey, "command_registry"),
		commands: map[EventType]map[string]*Command{},
	}
}

// Register adds a command descriptor. Descriptors missing a name or
// declaring an unknown event type are skipped with a warning. Registering
// a name twice under the same event type overwrites the earlier
// descriptor; last registered wins.
func (r *CommandRegistry) Register(cmd *Command) {
	if cmd == nil || cmd.Name == "" {
		r.logger.Warn("skipping command with no name", "command", cmd)
		return
	}
	if !knownEventTypes[cmd.Type] {
		r.logger.Warn(
			"skipping command with unknown event type",
			"name", cmd.Name,
			"event_type", string(cmd.Type),
		)
		return
	}
	byName := r.commands[cmd.Type]
	if byName == nil {
		byName = map[string]*Command{}
		r.commands[cmd.Type] = byName
	}
	if _, exists := byName[cmd.Name]; exists {
		r.logger.Warn(
			"overwriting previously registered command",
			"name", cmd.Name,
			"event_type", string(cmd.Type),
		)
	}
	byName[cmd.Name] = cmd
	r.logger.Debug("registered command", "command", cmd.String())
}

// Get returns the command registered under the given event type and name,
// or nil.
func (r *CommandRegistry) Get(t EventType, name string) *Command {
	return r.commands[t][name]
}

// CommandsFor returns every command registered under an event type.
func (r *CommandRegistry) CommandsFor(t EventType) []*Command {
	byName := r.commands[t]
	cmds := make([]*Command, 0, len(byName))
	for _, c := range byName {
		cmds = append(cmds, c)
	}
	return cmds
}

// Len returns the total number of registered commands.
func (r *CommandRegistry) Len() int {
	var n int
	for _, byName := range r.commands {
		n += len(byName)
	}
	return n
}

// ApplicationCommands collects the discord application command declarations
// from every registered descriptor with a non-nil App.
func (r *CommandRegistry) ApplicationCommands() []*discordgo.ApplicationCommand {
	var appCommands []*discordgo.ApplicationCommand
	for _, byName := range r.commands {
		for _, c := range byName {
			if c.App != nil {
				appCommands = append(appCommands, c.App)
			}
		}
	}
	return appCommands
}

// runCommand executes one command inside an error boundary: a panic or
// returned error is logged with the command's name and event type, and
// never propagates to the gateway handler or to sibling commands.
func (b *StudyBot) runCommand(ctx context.Context, cmd *Command, fn func() error) {
	logger := b.logger.With(
		"command", cmd.Name,
		"event_type", string(cmd.Type),
	)
	defer func() {
		if rv := recover(); rv != nil {
			logger.ErrorContext(ctx, "panic executing command", "panic", rv)
		}
	}()
	if err := fn(); err != nil {
		logger.ErrorContext(ctx, "error executing command", tint.Err(err))
	}
}

// handlerMessageCreate dispatches incoming messages. Bot-authored messages
// are dropped. Every messageCreate command sees the message; when the
// message carries the command prefix, the first token (lowercased) selects
// an onMessage command, and the remaining tokens are its arguments. Unknown
// command names are silently ignored.
func (b *StudyBot) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if b.paused.Load() {
			return
		}
		ctx := WithLogger(context.Background(), b.logger)

		for _, cmd := range b.registry.CommandsFor(EventMessageCreate) {
			cmd := cmd
			if cmd.ExecuteMessage == nil {
				continue
			}
			b.runCommand(
				ctx, cmd, func() error {
					return cmd.ExecuteMessage(ctx, b, m, nil)
				},
			)
		}

		prefix := b.config.Discord.CommandPrefix
		if prefix == "" || !strings.HasPrefix(m.Content, prefix) {
			return
		}
		fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
		if len(fields) == 0 {
			return
		}
		name := strings.ToLower(fields[0])
		args := fields[1:]

		cmd := b.registry.Get(EventOnMessage, name)
		if cmd == nil || cmd.ExecuteMessage == nil {
			b.logger.Debug("no command registered for name", "name", name)
			return
		}
		b.runCommand(
			ctx, cmd, func() error {
				return cmd.ExecuteMessage(ctx, b, m, args)
			},
		)
	}
}

// handlerInteractionCreate routes message component interactions by their
// CustomID. Other interaction kinds are logged and ignored here.
func (b *StudyBot) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if b.paused.Load() {
			return
		}
		ctx := WithLogger(context.Background(), b.logger)

		if i.Type != discordgo.InteractionMessageComponent {
			b.logger.InfoContext(
				ctx,
				"ignoring non-component interaction",
				interactionLogAttrs(*i)...,
			)
			return
		}

		customID := i.MessageComponentData().CustomID
		cmd := b.registry.Get(EventInteractionCreate, customID)
		if cmd == nil || cmd.ExecuteInteraction == nil {
			b.logger.WarnContext(
				ctx,
				"no command registered for component",
				"custom_id", customID,
			)
			return
		}
		b.runCommand(
			ctx, cmd, func() error {
				return cmd.ExecuteInteraction(ctx, b, i)
			},
		)
	}
}

// handlerVoiceStateUpdate broadcasts voice events to every registered
// voiceStateUpdate command.
func (b *StudyBot) handlerVoiceStateUpdate() func(
	s *discordgo.Session,
	v *discordgo.VoiceStateUpdate,
) {
	return func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		ctx := WithLogger(context.Background(), b.logger)
		for _, cmd := range b.registry.CommandsFor(EventVoiceStateUpdate) {
			cmd := cmd
			if cmd.ExecuteVoiceState == nil {
				continue
			}
			b.runCommand(
				ctx, cmd, func() error {
					return cmd.ExecuteVoiceState(ctx, b, v)
				},
			)
		}
	}
}

// handlerReady broadcasts the ready event to every registered ready
// command, then marks the bot ready.
func (b *StudyBot) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			"user_id", s.State.User.ID,
			"username", s.State.User.Username,
		)
		ctx := WithLogger(context.Background(), b.logger)
		for _, cmd := range b.registry.CommandsFor(EventReady) {
			cmd := cmd
			if cmd.ExecuteReady == nil {
				continue
			}
			b.runCommand(
				ctx, cmd, func() error {
					return cmd.ExecuteReady(ctx, b, r)
				},
			)
		}
		b.eventReady.Store(true)
	}
}

// registerGatewayHandlers wires one discordgo handler per gateway event the
// registry has commands for, plus connection state handlers.
func (b *StudyBot) registerGatewayHandlers() {
	session := b.discord.session
	removeFuncs := []func(){
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.handlerReady()),
		session.AddHandler(b.handlerMessageCreate()),
		session.AddHandler(b.handlerInteractionCreate()),
		session.AddHandler(b.handlerVoiceStateUpdate()),
	}
	b.discord.discordgoRemoveHandlerFuncs = append(
		b.discord.discordgoRemoveHandlerFuncs,
		removeFuncs...,
	)
}

// registerSlashCommands pushes every descriptor carrying an application
// command declaration to discord in a single bulk overwrite. A registry
// with no such descriptors is a no-op.
func (b *StudyBot) registerSlashCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	appCommands := b.registry.ApplicationCommands()
	if len(appCommands) == 0 {
		b.logger.Info("no application commands to register")
		return nil, nil
	}

	created, err := b.discord.session.ApplicationCommandBulkOverwrite(
		b.config.Discord.ApplicationID,
		b.config.Discord.GuildID,
		appCommands,
		options...,
	)
	if err != nil {
		b.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		b.logger.Info("Registered application command", "command", c.Name)
	}
	return created, nil
}
