package studybot

import (
	"context"
	"log/slog"
	"math/rand"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

const loggerContextKey contextKey = "logger"

type contextKey string

var userMentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)

// parseUserMention extracts a user ID from a raw `<@123>` / `<@!123>`
// mention token. Returns an empty string when the token isn't a mention.
func parseUserMention(token string) string {
	m := userMentionPattern.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return ""
	}
	return m[1]
}

const (
	shortIDUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	shortIDDigits    = "0123456789"
)

var shortIDPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{3}$`)

// newShortID returns a 5-character identifier: two uppercase letters
// followed by three digits.
func newShortID() string {
	b := []byte{
		shortIDUppercase[rand.Intn(len(shortIDUppercase))],
		shortIDUppercase[rand.Intn(len(shortIDUppercase))],
		shortIDDigits[rand.Intn(len(shortIDDigits))],
		shortIDDigits[rand.Intn(len(shortIDDigits))],
		shortIDDigits[rand.Intn(len(shortIDDigits))],
	}
	return string(b)
}

// clampRating coerces a rating into the valid [1, 5] range.
func clampRating(rating int) int {
	if rating < 1 {
		return 1
	}
	if rating > 5 {
		return 5
	}
	return rating
}

// filterChoices applies a fuzzy title filter to autocomplete choices, then
// truncates the result to limit (Discord caps autocomplete payloads at 25).
func filterChoices(
	choices []*discordgo.ApplicationCommandOptionChoice,
	search string,
	limit int,
) []*discordgo.ApplicationCommandOptionChoice {
	if search != "" {
		matched := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(choices))
		for _, c := range choices {
			if fuzzy.MatchNormalizedFold(search, c.Name) {
				matched = append(matched, c)
			}
		}
		choices = matched
	}
	if len(choices) > limit {
		choices = choices[:limit]
	}
	return choices
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func stringPointerValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"[redacted]"` hides the real value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" {
				skip = true
			}
		}

		if skip {
			continue
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}

	return slog.GroupValue(groupAttrs...)
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, "channel_id", i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, "guild_id", i.GuildID)
	}
	return logAttrs
}
