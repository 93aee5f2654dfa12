package controllers

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/fatih/color"

	"github.com/imMORX/Gatekeeper/app/database"
	"github.com/imMORX/Gatekeeper/app/models"
)

const (
	CommandSetBanGuild    = "setbanguild"
	CommandSetBanRole     = "setbanrole"
	CommandSetSuccessRole = "setsuccessrole"
	CommandSetLogChannel  = "setlogchannel"
	CommandSetLogChannel2 = "setlogchannel2"
	CommandSetReturnURL   = "setreturnurl"

	authButtonID = "auth_button"
)

var (
	_discord      *discordgo.Session
	authButtonURL string

	adminPerm    int64 = discordgo.PermissionAdministrator
	dmPermsFalse       = false

	commands = []*discordgo.ApplicationCommand{
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &adminPerm,
			Name:                     CommandSetBanGuild,
			Description:              "Add a server ID to the ban list",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "server",
					Description: "Server ID",
					Required:    true,
				},
			},
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &adminPerm,
			Name:                     CommandSetBanRole,
			Description:              "Set the display name used for banned results",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "role",
					Description: "Role name",
					Required:    true,
				},
			},
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &adminPerm,
			Name:                     CommandSetSuccessRole,
			Description:              "Set the display name used for successful results",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "role",
					Description: "Role name",
					Required:    true,
				},
			},
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &adminPerm,
			Name:                     CommandSetLogChannel,
			Description:              "Set the verification log channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Log channel",
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
					Required: true,
				},
			},
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &adminPerm,
			Name:                     CommandSetLogChannel2,
			Description:              "Set the secondary verification log channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "Secondary log channel",
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
					Required: true,
				},
			},
		},
		{
			DMPermission:             &dmPermsFalse,
			DefaultMemberPermissions: &adminPerm,
			Name:                     CommandSetReturnURL,
			Description:              "Set the URL users are sent back to after verifying",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "url",
					Description: "URL",
					Required:    true,
				},
			},
		},
	}

	commandHandlers = map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate){
		CommandSetBanGuild: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			serverID := i.ApplicationCommandData().Options[0].StringValue()
			cfg, err := database.UpdateConfig(func(c *models.BanConfig) {
				c.BanGuilds = append(c.BanGuilds, serverID)
			})
			if err != nil {
				respondEphemeral(s, i, "Failed to save the configuration, please try again.")
				return
			}
			respond(s, i, fmt.Sprintf("Added `%s` to the ban list (%d entries).", serverID, len(cfg.BanGuilds)))
		},
		CommandSetBanRole: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			role := i.ApplicationCommandData().Options[0].StringValue()
			if _, err := database.UpdateConfig(func(c *models.BanConfig) {
				c.BanRoleName = role
			}); err != nil {
				respondEphemeral(s, i, "Failed to save the configuration, please try again.")
				return
			}
			respond(s, i, fmt.Sprintf("Ban role name set to `%s`.", role))
		},
		CommandSetSuccessRole: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			role := i.ApplicationCommandData().Options[0].StringValue()
			if _, err := database.UpdateConfig(func(c *models.BanConfig) {
				c.SuccessRoleName = role
			}); err != nil {
				respondEphemeral(s, i, "Failed to save the configuration, please try again.")
				return
			}
			respond(s, i, fmt.Sprintf("Success role name set to `%s`.", role))
		},
		CommandSetLogChannel: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			channel := i.ApplicationCommandData().Options[0].ChannelValue(s)
			if channel == nil {
				respondEphemeral(s, i, "I couldn't get that channel, is it invalid?")
				return
			}
			if _, err := database.UpdateConfig(func(c *models.BanConfig) {
				c.LogChannelID = channel.ID
			}); err != nil {
				respondEphemeral(s, i, "Failed to save the configuration, please try again.")
				return
			}
			respond(s, i, fmt.Sprintf("Log channel set to `%s`.", channel.Name))
		},
		CommandSetLogChannel2: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			channel := i.ApplicationCommandData().Options[0].ChannelValue(s)
			if channel == nil {
				respondEphemeral(s, i, "I couldn't get that channel, is it invalid?")
				return
			}
			if _, err := database.UpdateConfig(func(c *models.BanConfig) {
				c.LogChannelID2 = channel.ID
			}); err != nil {
				respondEphemeral(s, i, "Failed to save the configuration, please try again.")
				return
			}
			respond(s, i, fmt.Sprintf("Secondary log channel set to `%s`.", channel.Name))
		},
		CommandSetReturnURL: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			raw := i.ApplicationCommandData().Options[0].StringValue()
			if !ValidReturnURL(raw) {
				respondEphemeral(s, i, "That doesn't look like a valid http(s) URL.")
				return
			}
			if _, err := database.UpdateConfig(func(c *models.BanConfig) {
				c.ReturnURL = raw
			}); err != nil {
				respondEphemeral(s, i, "Failed to save the configuration, please try again.")
				return
			}
			respond(s, i, fmt.Sprintf("Return URL set to %s", raw))
		},
	}
)

func SetupDiscord() {
	authButtonURL = resolveAuthButtonURL()

	discord, derr := discordgo.New("Bot " + os.Getenv("TOKEN"))
	if derr != nil {
		slog.Error("Failed to create Bot", slog.Any("err", derr))
		os.Exit(1)
	}

	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	discord.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		color.Green("[i | Login] Connected to %s#%s", r.User.Username, r.User.Discriminator)
	})

	discord.AddHandler(handleInteraction)
	discord.AddHandler(handleMessage)

	if err := discord.Open(); err != nil {
		slog.Error("Couldn't create websocket to Discord", slog.Any("err", err))
		os.Exit(1)
	}

	// Register all slash commands globally
	for _, v := range commands {
		if _, err := discord.ApplicationCommandCreate(discord.State.User.ID, "", v); err != nil {
			slog.Warn("Cannot create", slog.String("command", v.Name), slog.Any("err", err))
		}
	}

	_discord = discord
}

func GetDiscord() *discordgo.Session {
	return _discord
}

// The button links to the gateway's own OAuth2 entry point unless the
// operator overrides it with AUTH_BUTTON_URL.
func resolveAuthButtonURL() string {
	if override, ok := os.LookupEnv("AUTH_BUTTON_URL"); ok {
		return override
	}

	redirect, err := url.Parse(os.Getenv("REDIRECT_URL"))
	if err != nil || redirect.Host == "" {
		slog.Warn("Cannot derive auth button URL from REDIRECT_URL, set AUTH_BUTTON_URL")
		return os.Getenv("REDIRECT_URL")
	}
	redirect.Path = "/auth/discord"
	redirect.RawQuery = ""
	return redirect.String()
}

func handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if !IsAdministrator(i.Member) {
			respondEphemeral(s, i, "Only administrators can use this command.")
			return
		}
		if cmd, ok := commandHandlers[i.ApplicationCommandData().Name]; ok {
			cmd(s, i)
		}
	case discordgo.InteractionMessageComponent:
		if i.MessageComponentData().CustomID == authButtonID {
			handleAuthButton(s, i)
		}
	}
}

func handleAuthButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:   discordgo.MessageFlagsEphemeral,
			Content: "Use the button below to verify yourself.",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Style: discordgo.LinkButton,
							Label: "Open verification page",
							URL:   authButtonURL,
						},
					},
				},
			},
		},
	}); err != nil {
		slog.Warn("Failed to respond to auth button", slog.Any("err", err))
		return
	}

	slog.Info("Verification started", slog.String("user", i.Member.User.Username))
}

func handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	content := strings.TrimSpace(m.Content)
	switch {
	case strings.EqualFold(content, "ping"):
		if _, err := s.ChannelMessageSend(m.ChannelID, "Pong!"); err != nil {
			slog.Warn("Failed to send message to channel", slog.String("id", m.ChannelID))
		}
	case strings.EqualFold(content, "!auth"):
		handleAuthCommand(s, m)
	case strings.HasPrefix(strings.ToLower(content), "!return "):
		handleReturnCommand(s, m, strings.TrimSpace(content[len("!return "):]))
	}
}

// handleAuthCommand posts the verification panel, suppressing the post when
// the most recent channel message is already ours.
func handleAuthCommand(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !messageAuthorIsAdmin(s, m) {
		reply(s, m, "Only administrators can use this command.")
		return
	}

	recent, err := s.ChannelMessages(m.ChannelID, 1, "", "", "")
	if err != nil {
		slog.Warn("Failed to fetch channel history", slog.String("id", m.ChannelID), slog.Any("err", err))
	}
	if !ShouldPostPanel(recent, s.State.User.ID) {
		reply(s, m, "The verification panel has already been posted.")
		return
	}

	if _, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content: "Press the button below to start verification.",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Style:    discordgo.PrimaryButton,
						Label:    "Verify",
						CustomID: authButtonID,
					},
				},
			},
		},
	}); err != nil {
		slog.Warn("Failed to send message to channel", slog.String("id", m.ChannelID))
	}
}

func handleReturnCommand(s *discordgo.Session, m *discordgo.MessageCreate, raw string) {
	if !messageAuthorIsAdmin(s, m) {
		reply(s, m, "Only administrators can use this command.")
		return
	}

	if !ValidReturnURL(raw) {
		reply(s, m, "That doesn't look like a valid http(s) URL.")
		return
	}

	if _, err := database.UpdateConfig(func(c *models.BanConfig) {
		c.ReturnURL = raw
	}); err != nil {
		reply(s, m, "Failed to save the configuration, please try again.")
		return
	}
	reply(s, m, "Return URL set to "+raw)
}

// IsAdministrator reports whether the invoking member carries the
// administrator permission.
func IsAdministrator(member *discordgo.Member) bool {
	return member != nil && member.Permissions&discordgo.PermissionAdministrator != 0
}

func messageAuthorIsAdmin(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	perms, err := s.State.MessagePermissions(m.Message)
	if err != nil {
		slog.Warn("Failed to resolve member permissions", slog.String("user", m.Author.ID), slog.Any("err", err))
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// ShouldPostPanel reports whether a new verification panel may be posted:
// only when the most recent channel message is not already one of ours.
func ShouldPostPanel(recent []*discordgo.Message, botID string) bool {
	if len(recent) == 0 {
		return true
	}
	last := recent[0]
	return last.Author == nil || last.Author.ID != botID
}

// ValidReturnURL accepts absolute http(s) URLs only.
func ValidReturnURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var respond = func(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
		},
	}); err != nil {
		slog.Warn("Failed to respond to interaction", slog.Any("err", err))
	}
}

var respondEphemeral = func(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:   discordgo.MessageFlagsEphemeral,
			Content: content,
		},
	}); err != nil {
		slog.Warn("Failed to respond to interaction", slog.Any("err", err))
	}
}

func reply(s *discordgo.Session, m *discordgo.MessageCreate, content string) {
	if _, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference()); err != nil {
		slog.Warn("Failed to send message to channel", slog.String("id", m.ChannelID))
	}
}
