package studybot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"gorm.io/datatypes"
)

// Component custom IDs. These double as the registry names for
// interactionCreate commands.
const (
	customIDResourceApprove = "resource_approve"
	customIDResourceDecline = "resource_decline"
	customIDDoubtSolve      = "doubt_solve"
	customIDDoubtUnsolve    = "doubt_unsolve"
	customIDMoveAccept      = "privatevc_move_accept"
	customIDMoveDecline     = "privatevc_move_decline"
	customIDRateResource    = "rateresource"
)

// registerCommands builds the bot's full explicit command set. Commands are
// never discovered; anything not registered here does not exist.
func registerCommands(b *StudyBot) {
	for _, cmd := range []*Command{
		commandPoints(),
		commandThank(),
		commandPronouns(),
		commandBookmark(),
		commandSubmit(),
		commandRate(),
		commandResource(),
		commandResources(),
		commandAsk(),
		commandProfile(),
		commandLeaderboard(),
		commandStudyMode(),
		commandEditResource(),
		commandDeleteResource(),
		commandEditDoubt(),
		commandDeleteDoubt(),
		commandVoice(),
		commandInvite(),
		componentResourceApprove(),
		componentResourceDecline(),
		componentDoubtSolve(),
		componentDoubtUnsolve(),
		componentMoveAccept(),
		componentMoveDecline(),
		componentRateResource(),
		broadcastTrackActivity(),
		broadcastStudyModeGuard(),
		voiceReclaimEmptyVC(),
		readyRemoveUnusedVC(),
	} {
		b.registry.Register(cmd)
	}
}

// reply sends a message as a reply to the triggering message.
func (b *StudyBot) reply(m *discordgo.MessageCreate, content string) error {
	_, err := b.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		truncate(content, discordMaxMessageLength),
		m.Reference(),
	)
	return err
}

// componentReply responds to a component interaction with an ephemeral
// message.
func (b *StudyBot) componentReply(i *discordgo.InteractionCreate, content string) error {
	return b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncate(content, discordMaxMessageLength),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// embedFooterID extracts the record ID stashed in the first embed's footer
// of the message a component interaction came from.
func embedFooterID(i *discordgo.InteractionCreate) string {
	if i.Message == nil || len(i.Message.Embeds) == 0 {
		return ""
	}
	footer := i.Message.Embeds[0].Footer
	if footer == nil {
		return ""
	}
	return footer.Text
}

// isStaffChannel reports whether a message was sent in the configured
// staff channel. Staff-only commands are gated on this.
func (b *StudyBot) isStaffChannel(channelID string) bool {
	staff := b.config.Discord.StaffChannelID
	return staff != "" && channelID == staff
}

func commandPoints() *Command {
	return &Command{
		Name:        "points",
		Type:        EventOnMessage,
		Description: "Show your support points and leaderboard position",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			userID := m.Author.ID
			if len(args) > 0 {
				if mentioned := parseUserMention(args[0]); mentioned != "" {
					userID = mentioned
				}
			}
			points, err := b.writeDB.GetSupportPoints(ctx, userID)
			if err != nil {
				return err
			}
			position, err := b.writeDB.LeaderboardPosition(ctx, userID)
			if err != nil {
				return err
			}
			if position == 0 {
				return b.reply(m, fmt.Sprintf("<@%s> has no support points yet.", userID))
			}
			return b.reply(
				m,
				fmt.Sprintf(
					"<@%s> has **%d** support points (rank #%d).",
					userID, points, position,
				),
			)
		},
	}
}

func commandThank() *Command {
	return &Command{
		Name:        "thank",
		Type:        EventOnMessage,
		Description: "Award a support point to a helpful member",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) == 0 {
				return b.reply(m, "Usage: thank @user")
			}
			target := parseUserMention(args[0])
			if target == "" {
				return b.reply(m, "Mention the user you want to thank.")
			}
			if target == m.Author.ID {
				return b.reply(m, "You can't thank yourself.")
			}
			if err := b.writeDB.AddSupportPoints(ctx, target, 1); err != nil {
				return err
			}
			return b.reply(
				m,
				fmt.Sprintf("<@%s> earned a support point. Thanks for helping!", target),
			)
		},
	}
}

func commandPronouns() *Command {
	return &Command{
		Name:        "pronouns",
		Type:        EventOnMessage,
		Description: "Set or show your pronouns",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) == 0 {
				pronouns, err := b.writeDB.UserPronouns(ctx, m.Author.ID)
				if err != nil {
					return err
				}
				if pronouns == "" {
					return b.reply(m, "You haven't set pronouns. Usage: pronouns they/them")
				}
				return b.reply(m, fmt.Sprintf("Your pronouns: %s", pronouns))
			}
			pronouns := strings.Join(args, " ")
			if pronouns == "clear" {
				pronouns = ""
			}
			if err := b.writeDB.SetUserPronouns(ctx, m.Author.ID, pronouns); err != nil {
				return err
			}
			if pronouns == "" {
				return b.reply(m, "Pronouns cleared.")
			}
			return b.reply(m, fmt.Sprintf("Pronouns set to %s.", pronouns))
		},
	}
}

// bookmarkRecord is the blob stored in the user's bookmark column.
type bookmarkRecord struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Note      string `json:"note,omitempty"`
}

func commandBookmark() *Command {
	return &Command{
		Name:        "bookmark",
		Type:        EventOnMessage,
		Description: "Save a message reference for later, or show the saved one",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) == 0 && m.ReferencedMessage == nil {
				stored, err := b.writeDB.Bookmark(ctx, m.Author.ID)
				if err != nil {
					return err
				}
				if len(stored) == 0 {
					return b.reply(m, "No bookmark saved. Reply to a message with this command to save it.")
				}
				var record bookmarkRecord
				if err = json.Unmarshal(stored, &record); err != nil {
					return fmt.Errorf("error decoding bookmark: %w", err)
				}
				return b.reply(
					m,
					fmt.Sprintf(
						"Your bookmark: https://discord.com/channels/%s/%s/%s %s",
						record.GuildID, record.ChannelID, record.MessageID, record.Note,
					),
				)
			}

			record := bookmarkRecord{
				GuildID:   m.GuildID,
				ChannelID: m.ChannelID,
				MessageID: m.ID,
				Note:      strings.Join(args, " "),
			}
			if ref := m.ReferencedMessage; ref != nil {
				record.ChannelID = ref.ChannelID
				record.MessageID = ref.ID
			}
			blob, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("error encoding bookmark: %w", err)
			}
			if err = b.writeDB.SetBookmark(ctx, m.Author.ID, datatypes.JSON(blob)); err != nil {
				return err
			}
			return b.reply(m, "Bookmark saved.")
		},
	}
}

func commandSubmit() *Command {
	return &Command{
		Name:        "submit",
		Type:        EventOnMessage,
		Description: "Submit a resource for staff review: submit <tag> <url> <title> | <description>",
		App: &discordgo.ApplicationCommand{
			Name:        "submitresource",
			Description: "Submit a learning resource for staff review",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "tag",
					Description: "Category tag",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "url",
					Description: "Link to the resource",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "title",
					Description: "Resource title",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "What makes it useful",
				},
			},
		},
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) < 3 {
				return b.reply(m, "Usage: submit <tag> <url> <title> | <description>")
			}
			tag := args[0]
			url := args[1]
			rest := strings.Join(args[2:], " ")
			title, description, _ := strings.Cut(rest, "|")
			title = strings.TrimSpace(title)
			description = strings.TrimSpace(description)
			if title == "" {
				return b.reply(m, "A title is required.")
			}

			duplicate, err := b.writeDB.CheckDuplicate(ctx, "url", url)
			if err != nil {
				return err
			}
			if duplicate {
				return b.reply(m, "That URL has already been submitted.")
			}

			resource := &Resource{
				Title:  title,
				Tag:    tag,
				URL:    url,
				Author: m.Author.ID,
			}
			if description != "" {
				resource.Description = &description
			}
			id, err := b.writeDB.AddTemporaryResource(ctx, resource)
			if err != nil {
				return err
			}

			if staff := b.config.Discord.StaffChannelID; staff != "" {
				_, sendErr := b.discord.session.ChannelMessageSendComplex(
					staff,
					&discordgo.MessageSend{
						Embeds:     []*discordgo.MessageEmbed{resourceEmbed(resource, 0, false)},
						Components: resourceReviewButtons(),
					},
				)
				if sendErr != nil {
					b.logger.Error("error posting submission for review", "resource_id", id)
				}
			}
			return b.reply(
				m,
				fmt.Sprintf("Submitted **%s** (`%s`) for staff review.", title, id),
			)
		},
	}
}

func resourceReviewButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Approve",
					Style:    discordgo.SuccessButton,
					CustomID: customIDResourceApprove,
				},
				discordgo.Button{
					Label:    "Decline",
					Style:    discordgo.DangerButton,
					CustomID: customIDResourceDecline,
				},
			},
		},
	}
}

// resourceEmbed renders a resource card. The resource ID rides in the
// footer so component handlers can recover it.
func resourceEmbed(r *Resource, avg float64, rated bool) *discordgo.MessageEmbed {
	rating := "unrated"
	if rated {
		rating = fmt.Sprintf("%.1f / 5", avg)
	}
	return &discordgo.MessageEmbed{
		Title: r.Title,
		URL:   r.URL,
		Description: fmt.Sprintf(
			"%s\n\nTag: **%s** | Rating: **%s** | Submitted by <@%s>",
			stringPointerValue(r.Description), r.Tag, rating, r.Author,
		),
		Footer: &discordgo.MessageEmbedFooter{Text: r.ID},
	}
}

func commandRate() *Command {
	return &Command{
		Name:        "rate",
		Type:        EventOnMessage,
		Description: "Rate a resource: rate <id> <1-5> [comment]",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) < 2 {
				return b.reply(m, "Usage: rate <id> <1-5> [comment]")
			}
			resourceID := strings.ToUpper(args[0])
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return b.reply(m, "The rating must be a number from 1 to 5.")
			}
			rated, err := b.writeDB.HasRated(ctx, resourceID, m.Author.ID)
			if err != nil {
				return err
			}
			if rated {
				return b.reply(m, "You've already rated that resource.")
			}
			ok, err := b.writeDB.RateResource(
				ctx,
				resourceID,
				m.Author.ID,
				rating,
				strings.Join(args[2:], " "),
			)
			if err != nil {
				return err
			}
			if !ok {
				return b.reply(m, fmt.Sprintf("No resource found with ID `%s`.", resourceID))
			}
			return b.reply(m, "Rating saved, thank you!")
		},
	}
}

func commandResource() *Command {
	return &Command{
		Name:        "resource",
		Type:        EventOnMessage,
		Description: "Show a resource by ID",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) == 0 {
				return b.reply(m, "Usage: resource <id>")
			}
			resourceID := strings.ToUpper(args[0])
			resource, err := b.writeDB.GetResource(ctx, resourceID)
			if err != nil {
				return err
			}
			if resource == nil || resource.Status != ResourceStatusActive {
				return b.reply(m, fmt.Sprintf("No resource found with ID `%s`.", resourceID))
			}
			avg, rated, err := b.writeDB.AverageRating(ctx, resourceID)
			if err != nil {
				return err
			}
			_, err = b.discord.session.ChannelMessageSendComplex(
				m.ChannelID,
				&discordgo.MessageSend{
					Embeds:     []*discordgo.MessageEmbed{resourceEmbed(resource, avg, rated)},
					Components: rateResourceMenu(),
					Reference:  m.Reference(),
				},
			)
			return err
		},
	}
}

// rateResourceMenu is the 1-5 select menu attached to resource cards.
func rateResourceMenu() []discordgo.MessageComponent {
	options := make([]discordgo.SelectMenuOption, 0, 5)
	for i := 1; i <= 5; i++ {
		options = append(
			options, discordgo.SelectMenuOption{
				Label: fmt.Sprintf("%d", i),
				Value: fmt.Sprintf("%d", i),
			},
		)
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					CustomID:    customIDRateResource,
					Placeholder: "Rate this resource",
					Options:     options,
				},
			},
		},
	}
}

func commandResources() *Command {
	return &Command{
		Name:        "resources",
		Type:        EventOnMessage,
		Description: "List resources: resources [tag] [search]",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			var tag, search string
			if len(args) > 0 {
				tag = args[0]
			}
			if len(args) > 1 {
				search = strings.Join(args[1:], " ")
			}
			choices, err := b.writeDB.ServeResources(ctx, tag, search)
			if err != nil {
				return err
			}
			if len(choices) == 0 {
				return b.reply(m, "No matching resources found.")
			}
			var sb strings.Builder
			for _, c := range choices {
				fmt.Fprintf(&sb, "`%v` %s\n", c.Value, c.Name)
			}
			return b.reply(m, sb.String())
		},
	}
}

func commandAsk() *Command {
	return &Command{
		Name:        "ask",
		Type:        EventOnMessage,
		Description: "Ask a doubt: ask <subject> <grade> <question>",
		App: &discordgo.ApplicationCommand{
			Name:        "askdoubt",
			Description: "Ask a doubt for the community to solve",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "subject",
					Description: "Subject of the question",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "grade",
					Description: "Grade or level",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "question",
					Description: "The question itself",
					Required:    true,
				},
			},
		},
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) < 3 {
				return b.reply(m, "Usage: ask <subject> <grade> <question>")
			}
			cooling, err := b.writeDB.CheckCooldown(
				ctx,
				m.Author.ID,
				b.config.Discord.DoubtCooldown,
			)
			if err != nil {
				return err
			}
			if cooling {
				return b.reply(m, "Slow down! Wait a bit before asking another doubt.")
			}

			doubt := &Doubt{
				Author:      m.Author.ID,
				Subject:     args[0],
				Grade:       args[1],
				Description: strings.Join(args[2:], " "),
				MessageID:   m.ID,
				ChannelID:   m.ChannelID,
			}
			if len(m.Attachments) > 0 && m.Attachments[0].URL != "" {
				imageURL := m.Attachments[0].URL
				doubt.Image = &imageURL
			}
			id, err := b.writeDB.AddDoubt(ctx, doubt)
			if err != nil {
				return err
			}

			_, err = b.discord.session.ChannelMessageSendComplex(
				m.ChannelID,
				&discordgo.MessageSend{
					Embeds:     []*discordgo.MessageEmbed{doubtEmbed(doubt)},
					Components: doubtSolveButtons(),
					Reference:  m.Reference(),
				},
			)
			if err != nil {
				return err
			}
			b.logger.InfoContext(ctx, "doubt posted", "doubt_id", id, "author", m.Author.ID)
			return nil
		},
	}
}

func doubtEmbed(d *Doubt) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s (%s)", d.Subject, d.Grade),
		Description: fmt.Sprintf(
			"%s\n\nAsked by <@%s>",
			d.Description, d.Author,
		),
		Footer: &discordgo.MessageEmbedFooter{Text: d.ID},
	}
	if d.Image != nil {
		embed.Image = &discordgo.MessageEmbedImage{URL: *d.Image}
	}
	return embed
}

func doubtSolveButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Mark solved",
					Style:    discordgo.SuccessButton,
					CustomID: customIDDoubtSolve,
				},
				discordgo.Button{
					Label:    "Reopen",
					Style:    discordgo.SecondaryButton,
					CustomID: customIDDoubtUnsolve,
				},
			},
		},
	}
}

func commandProfile() *Command {
	return &Command{
		Name:        "profile",
		Type:        EventOnMessage,
		Description: "Show a member's community stats",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			userID := m.Author.ID
			if len(args) > 0 {
				if mentioned := parseUserMention(args[0]); mentioned != "" {
					userID = mentioned
				}
			}
			active, err := b.writeDB.ActiveResourceCountByUser(ctx, userID)
			if err != nil {
				return err
			}
			total, err := b.writeDB.TotalResourceCountByUser(ctx, userID)
			if err != nil {
				return err
			}
			avg, rated, err := b.writeDB.AverageRatingByUser(ctx, userID)
			if err != nil {
				return err
			}
			reviews, err := b.writeDB.ReviewCountByUser(ctx, userID)
			if err != nil {
				return err
			}
			doubts, err := b.writeDB.UserDoubtCount(ctx, userID)
			if err != nil {
				return err
			}
			points, err := b.writeDB.GetSupportPoints(ctx, userID)
			if err != nil {
				return err
			}

			rating := "unrated"
			if rated {
				rating = fmt.Sprintf("%.1f / 5", avg)
			}
			return b.reply(
				m,
				fmt.Sprintf(
					"**<@%s>**\nSupport points: %d\nResources: %d active of %d submitted, rated %s\nReviews written: %d\nDoubts asked: %d",
					userID, points, active, total, rating, reviews, doubts,
				),
			)
		},
	}
}

func commandLeaderboard() *Command {
	return &Command{
		Name:        "leaderboard",
		Type:        EventOnMessage,
		Description: "Show the support point leaderboard",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			_ []string,
		) error {
			top, err := b.writeDB.TopUsers(ctx, DefaultTopUserCount)
			if err != nil {
				return err
			}
			if len(top) == 0 {
				return b.reply(m, "Nobody has support points yet.")
			}
			total, err := b.writeDB.TotalUsers(ctx)
			if err != nil {
				return err
			}
			var sb strings.Builder
			for rank, u := range top {
				fmt.Fprintf(&sb, "%d. <@%s>: %d points\n", rank+1, u.ID, u.SupportPoints)
			}
			fmt.Fprintf(&sb, "\n%d members tracked.", total)
			return b.reply(m, sb.String())
		},
	}
}

func commandStudyMode() *Command {
	return &Command{
		Name:        "studymode",
		Type:        EventOnMessage,
		Description: "Lock yourself into the study channel: studymode on|off",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) == 0 {
				locked, err := b.writeDB.IsStudyModeLocked(ctx, m.Author.ID)
				if err != nil {
					return err
				}
				state := "off"
				if locked {
					state = "on"
				}
				return b.reply(m, fmt.Sprintf("Study mode is %s.", state))
			}
			switch strings.ToLower(args[0]) {
			case "on":
				if err := b.writeDB.LockStudyMode(ctx, m.Author.ID); err != nil {
					return err
				}
				return b.reply(m, "Study mode on. Your messages outside the study channel will be removed.")
			case "off":
				if err := b.writeDB.UnlockStudyMode(ctx, m.Author.ID); err != nil {
					return err
				}
				return b.reply(m, "Study mode off. Welcome back!")
			default:
				return b.reply(m, "Usage: studymode on|off")
			}
		},
	}
}

func commandEditResource() *Command {
	return &Command{
		Name:        "editresource",
		Type:        EventOnMessage,
		Description: "Staff: editresource <id> <title|tag|description|url|author> <value>",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if !b.isStaffChannel(m.ChannelID) {
				return b.reply(m, DefaultDiscordNotStaffMessage)
			}
			if len(args) < 2 {
				return b.reply(m, "Usage: editresource <id> <field> <value>")
			}
			resourceID := strings.ToUpper(args[0])
			field := strings.ToLower(args[1])
			value := strings.Join(args[2:], " ")

			var (
				ok  bool
				err error
			)
			switch field {
			case "title":
				ok, err = b.writeDB.EditTitle(ctx, resourceID, m.Author.ID, value)
			case "tag":
				ok, err = b.writeDB.EditTag(ctx, resourceID, m.Author.ID, value)
			case "description":
				ok, err = b.writeDB.EditDescription(ctx, resourceID, m.Author.ID, value)
			case "url":
				ok, err = b.writeDB.EditURL(ctx, resourceID, m.Author.ID, value)
			case "author":
				author := parseUserMention(value)
				if author == "" {
					author = value
				}
				ok, err = b.writeDB.EditAuthor(ctx, resourceID, m.Author.ID, author)
			default:
				return b.reply(m, "Editable fields: title, tag, description, url, author")
			}
			if err != nil {
				return err
			}
			if !ok {
				return b.reply(m, fmt.Sprintf("No resource found with ID `%s`.", resourceID))
			}
			return b.reply(m, fmt.Sprintf("Updated %s of `%s`.", field, resourceID))
		},
	}
}

func commandDeleteResource() *Command {
	return &Command{
		Name:        "delresource",
		Type:        EventOnMessage,
		Description: "Staff: remove a resource from circulation",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if !b.isStaffChannel(m.ChannelID) {
				return b.reply(m, DefaultDiscordNotStaffMessage)
			}
			if len(args) == 0 {
				return b.reply(m, "Usage: delresource <id>")
			}
			resourceID := strings.ToUpper(args[0])
			ok, err := b.writeDB.DeleteResource(ctx, resourceID, m.Author.ID)
			if err != nil {
				return err
			}
			if !ok {
				return b.reply(m, fmt.Sprintf("No resource found with ID `%s`.", resourceID))
			}
			return b.reply(m, fmt.Sprintf("Resource `%s` removed.", resourceID))
		},
	}
}

func commandEditDoubt() *Command {
	return &Command{
		Name:        "editdoubt",
		Type:        EventOnMessage,
		Description: "Rephrase your doubt: editdoubt <id> <new description>",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) < 2 {
				return b.reply(m, "Usage: editdoubt <id> <new description>")
			}
			doubtID := strings.ToUpper(args[0])
			doubt, err := b.writeDB.GetDoubt(ctx, doubtID)
			if err != nil {
				return err
			}
			if doubt == nil {
				return b.reply(m, fmt.Sprintf("No doubt found with ID `%s`.", doubtID))
			}
			if doubt.Author != m.Author.ID && !b.isStaffChannel(m.ChannelID) {
				return b.reply(m, "Only the asker can edit this doubt.")
			}
			if _, err = b.writeDB.EditDoubtDescription(
				ctx, doubtID, strings.Join(args[1:], " "),
			); err != nil {
				return err
			}
			return b.reply(m, fmt.Sprintf("Doubt `%s` updated.", doubtID))
		},
	}
}

func commandDeleteDoubt() *Command {
	return &Command{
		Name:        "deldoubt",
		Type:        EventOnMessage,
		Description: "Delete your doubt: deldoubt <id>",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) == 0 {
				return b.reply(m, "Usage: deldoubt <id>")
			}
			doubtID := strings.ToUpper(args[0])
			doubt, err := b.writeDB.GetDoubt(ctx, doubtID)
			if err != nil {
				return err
			}
			if doubt == nil {
				return b.reply(m, fmt.Sprintf("No doubt found with ID `%s`.", doubtID))
			}
			if doubt.Author != m.Author.ID && !b.isStaffChannel(m.ChannelID) {
				return b.reply(m, "Only the asker can delete this doubt.")
			}
			if _, err = b.writeDB.DeleteDoubt(ctx, doubtID); err != nil {
				return err
			}
			return b.reply(m, fmt.Sprintf("Doubt `%s` deleted.", doubtID))
		},
	}
}

func commandVoice() *Command {
	return &Command{
		Name:        "voice",
		Type:        EventOnMessage,
		Description: "Create your private voice channel",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			_ []string,
		) error {
			existing, err := b.writeDB.PrivateVCByOwner(ctx, m.Author.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return b.reply(
					m,
					fmt.Sprintf("You already have a private channel: <#%s>", existing.ID),
				)
			}

			channel, err := b.discord.session.GuildChannelCreateComplex(
				b.config.Discord.GuildID,
				discordgo.GuildChannelCreateData{
					Name: fmt.Sprintf("%s's room", m.Author.Username),
					Type: discordgo.ChannelTypeGuildVoice,
				},
			)
			if err != nil {
				return fmt.Errorf("error creating voice channel: %w", err)
			}
			err = b.discord.session.ChannelPermissionSet(
				channel.ID,
				m.Author.ID,
				discordgo.PermissionOverwriteTypeMember,
				discordgo.PermissionViewChannel|discordgo.PermissionVoiceConnect|discordgo.PermissionVoiceMoveMembers,
				0,
			)
			if err != nil {
				b.logger.Error("error granting channel permissions", "channel_id", channel.ID)
			}
			if err = b.writeDB.SetPrivateVC(ctx, channel.ID, m.Author.ID); err != nil {
				return err
			}
			return b.reply(
				m,
				fmt.Sprintf("Created your private channel: <#%s>", channel.ID),
			)
		},
	}
}

const moveRequestFooterSeparator = ":"

func commandInvite() *Command {
	return &Command{
		Name:        "invite",
		Type:        EventOnMessage,
		Description: "Invite a member into your private voice channel",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			args []string,
		) error {
			if len(args) == 0 {
				return b.reply(m, "Usage: invite @user")
			}
			target := parseUserMention(args[0])
			if target == "" {
				return b.reply(m, "Mention the user you want to invite.")
			}
			vc, err := b.writeDB.PrivateVCByOwner(ctx, m.Author.ID)
			if err != nil {
				return err
			}
			if vc == nil {
				return b.reply(m, "You don't have a private voice channel. Use the voice command first.")
			}
			_, err = b.discord.session.ChannelMessageSendComplex(
				m.ChannelID,
				&discordgo.MessageSend{
					Embeds: []*discordgo.MessageEmbed{
						{
							Description: fmt.Sprintf(
								"<@%s>, <@%s> invited you to their voice channel <#%s>.",
								target, m.Author.ID, vc.ID,
							),
							Footer: &discordgo.MessageEmbedFooter{
								Text: target + moveRequestFooterSeparator + vc.ID,
							},
						},
					},
					Components: []discordgo.MessageComponent{
						discordgo.ActionsRow{
							Components: []discordgo.MessageComponent{
								discordgo.Button{
									Label:    "Join",
									Style:    discordgo.SuccessButton,
									CustomID: customIDMoveAccept,
								},
								discordgo.Button{
									Label:    "No thanks",
									Style:    discordgo.SecondaryButton,
									CustomID: customIDMoveDecline,
								},
							},
						},
					},
				},
			)
			return err
		},
	}
}

func componentResourceApprove() *Command {
	return &Command{
		Name:        customIDResourceApprove,
		Type:        EventInteractionCreate,
		Description: "Staff approval button on pending resource cards",
		ExecuteInteraction: func(
			ctx context.Context,
			b *StudyBot,
			i *discordgo.InteractionCreate,
		) error {
			user := getDiscordUser(i)
			resourceID := embedFooterID(i)
			if user == nil || resourceID == "" {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			ok, err := b.writeDB.ApproveTemporaryResource(ctx, resourceID, user.ID)
			if err != nil {
				return err
			}
			if !ok {
				return b.componentReply(
					i,
					fmt.Sprintf("Resource `%s` no longer exists.", resourceID),
				)
			}
			return b.componentReply(
				i,
				fmt.Sprintf("Resource `%s` approved.", resourceID),
			)
		},
	}
}

func componentResourceDecline() *Command {
	return &Command{
		Name:        customIDResourceDecline,
		Type:        EventInteractionCreate,
		Description: "Staff decline button on pending resource cards",
		ExecuteInteraction: func(
			ctx context.Context,
			b *StudyBot,
			i *discordgo.InteractionCreate,
		) error {
			user := getDiscordUser(i)
			resourceID := embedFooterID(i)
			if user == nil || resourceID == "" {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			ok, err := b.writeDB.DeclineTemporaryResource(ctx, resourceID, user.ID)
			if err != nil {
				return err
			}
			if !ok {
				return b.componentReply(
					i,
					fmt.Sprintf("Resource `%s` no longer exists.", resourceID),
				)
			}
			return b.componentReply(
				i,
				fmt.Sprintf("Resource `%s` declined.", resourceID),
			)
		},
	}
}

func componentDoubtSolve() *Command {
	return &Command{
		Name:        customIDDoubtSolve,
		Type:        EventInteractionCreate,
		Description: "Mark-solved button on doubt cards",
		ExecuteInteraction: func(
			ctx context.Context,
			b *StudyBot,
			i *discordgo.InteractionCreate,
		) error {
			user := getDiscordUser(i)
			doubtID := embedFooterID(i)
			if user == nil || doubtID == "" {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			var messageID string
			if i.Message != nil {
				messageID = i.Message.ID
			}
			ok, err := b.writeDB.MarkDoubtSolved(
				ctx, doubtID, user.ID, messageID, i.ChannelID,
			)
			if err != nil {
				return err
			}
			if !ok {
				return b.componentReply(i, "That doubt is already solved, or no longer exists.")
			}
			// award the solver for helping out
			doubt, err := b.writeDB.GetDoubt(ctx, doubtID)
			if err == nil && doubt != nil && doubt.Author != user.ID {
				if pointsErr := b.writeDB.AddSupportPoints(ctx, user.ID, 1); pointsErr != nil {
					b.logger.Error("error awarding solver point", "doubt_id", doubtID)
				}
			}
			return b.componentReply(i, fmt.Sprintf("Doubt `%s` marked solved.", doubtID))
		},
	}
}

func componentDoubtUnsolve() *Command {
	return &Command{
		Name:        customIDDoubtUnsolve,
		Type:        EventInteractionCreate,
		Description: "Reopen button on doubt cards",
		ExecuteInteraction: func(
			ctx context.Context,
			b *StudyBot,
			i *discordgo.InteractionCreate,
		) error {
			doubtID := embedFooterID(i)
			if doubtID == "" {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			ok, err := b.writeDB.UndoSolveDoubt(ctx, doubtID)
			if err != nil {
				return err
			}
			if !ok {
				return b.componentReply(i, "That doubt isn't solved, or no longer exists.")
			}
			return b.componentReply(i, fmt.Sprintf("Doubt `%s` reopened.", doubtID))
		},
	}
}

func componentMoveAccept() *Command {
	return &Command{
		Name:        customIDMoveAccept,
		Type:        EventInteractionCreate,
		Description: "Join button on voice channel invites",
		ExecuteInteraction: func(
			ctx context.Context,
			b *StudyBot,
			i *discordgo.InteractionCreate,
		) error {
			user := getDiscordUser(i)
			footer := embedFooterID(i)
			target, channelID, found := strings.Cut(footer, moveRequestFooterSeparator)
			if user == nil || !found {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			if user.ID != target {
				return b.componentReply(i, "This invite isn't for you.")
			}
			tracked, err := b.writeDB.IsPrivateVC(ctx, channelID)
			if err != nil {
				return err
			}
			if !tracked {
				return b.componentReply(i, "That voice channel no longer exists.")
			}
			if err = b.discord.session.GuildMemberMove(
				b.config.Discord.GuildID, user.ID, &channelID,
			); err != nil {
				return b.componentReply(
					i,
					"Couldn't move you. Join a voice channel first, then try again.",
				)
			}
			return b.componentReply(i, fmt.Sprintf("Moved you to <#%s>.", channelID))
		},
	}
}

func componentMoveDecline() *Command {
	return &Command{
		Name:        customIDMoveDecline,
		Type:        EventInteractionCreate,
		Description: "Decline button on voice channel invites",
		ExecuteInteraction: func(
			_ context.Context,
			b *StudyBot,
			i *discordgo.InteractionCreate,
		) error {
			user := getDiscordUser(i)
			footer := embedFooterID(i)
			target, _, found := strings.Cut(footer, moveRequestFooterSeparator)
			if user == nil || !found {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			if user.ID != target {
				return b.componentReply(i, "This invite isn't for you.")
			}
			return b.componentReply(i, "Invite declined.")
		},
	}
}

func componentRateResource() *Command {
	return &Command{
		Name:        customIDRateResource,
		Type:        EventInteractionCreate,
		Description: "Rating select menu on resource cards",
		App: &discordgo.ApplicationCommand{
			Name:        customIDRateResource,
			Description: "Rate a community resource",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         "resource",
					Description:  "The resource to rate",
					Required:     true,
					Autocomplete: true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "rating",
					Description: "1 to 5",
					Required:    true,
				},
			},
		},
		ExecuteInteraction: func(
			ctx context.Context,
			b *StudyBot,
			i *discordgo.InteractionCreate,
		) error {
			user := getDiscordUser(i)
			resourceID := embedFooterID(i)
			values := i.MessageComponentData().Values
			if user == nil || resourceID == "" || len(values) == 0 {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			rating, err := strconv.Atoi(values[0])
			if err != nil {
				return b.componentReply(i, DefaultDiscordErrorMessage)
			}
			rated, err := b.writeDB.HasRated(ctx, resourceID, user.ID)
			if err != nil {
				return err
			}
			if rated {
				return b.componentReply(i, "You've already rated that resource.")
			}
			ok, err := b.writeDB.RateResource(ctx, resourceID, user.ID, rating, "")
			if err != nil {
				return err
			}
			if !ok {
				return b.componentReply(i, "That resource no longer exists.")
			}
			return b.componentReply(i, "Rating saved, thank you!")
		},
	}
}

func broadcastTrackActivity() *Command {
	return &Command{
		Name:        "trackActivity",
		Type:        EventMessageCreate,
		Description: "Create user rows on first sight and stamp activity",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			_ []string,
		) error {
			if _, _, err := b.writeDB.InitializeUser(ctx, *m.Author); err != nil {
				return err
			}
			return b.writeDB.TouchLastActive(ctx, m.Author.ID)
		},
	}
}

func broadcastStudyModeGuard() *Command {
	return &Command{
		Name:        "studyModeGuard",
		Type:        EventMessageCreate,
		Description: "Remove messages from study-mode users outside the study channel",
		ExecuteMessage: func(
			ctx context.Context,
			b *StudyBot,
			m *discordgo.MessageCreate,
			_ []string,
		) error {
			study := b.config.Discord.StudyChannelID
			if study == "" || m.ChannelID == study {
				return nil
			}
			locked, err := b.writeDB.IsStudyModeLocked(ctx, m.Author.ID)
			if err != nil {
				return err
			}
			if !locked {
				return nil
			}
			return b.discord.session.ChannelMessageDelete(m.ChannelID, m.ID)
		},
	}
}

func voiceReclaimEmptyVC() *Command {
	return &Command{
		Name:        "reclaimEmptyVC",
		Type:        EventVoiceStateUpdate,
		Description: "Delete a private voice channel when its last member leaves",
		ExecuteVoiceState: func(
			ctx context.Context,
			b *StudyBot,
			v *discordgo.VoiceStateUpdate,
		) error {
			if v.BeforeUpdate == nil || v.BeforeUpdate.ChannelID == "" {
				return nil
			}
			left := v.BeforeUpdate.ChannelID
			if left == v.ChannelID {
				return nil
			}
			tracked, err := b.writeDB.IsPrivateVC(ctx, left)
			if err != nil {
				return err
			}
			if !tracked {
				return nil
			}
			members, err := b.discord.session.VoiceChannelMemberCount(
				b.config.Discord.GuildID, left,
			)
			if err != nil {
				return err
			}
			if members > 0 {
				return nil
			}
			if _, err = b.discord.session.ChannelDelete(left); err != nil {
				// leave the mapping for the sweep to retry
				return fmt.Errorf("error deleting empty channel %s: %w", left, err)
			}
			return b.writeDB.DeletePrivateVC(ctx, left)
		},
	}
}

func readyRemoveUnusedVC() *Command {
	return &Command{
		Name:        "removeUnusedVC",
		Type:        EventReady,
		Description: "Reconcile tracked private voice channels at startup",
		ExecuteReady: func(
			ctx context.Context,
			b *StudyBot,
			_ *discordgo.Ready,
		) error {
			return b.sweepPrivateVCs(ctx)
		},
	}
}
