package controllers

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Notify delivers a message to the given channel. Channels that cannot be
// resolved or are not text-capable are skipped silently; there is no retry
// or delivery confirmation beyond the transport's own signal.
func Notify(channelID, content string) {
	ch, s := resolveTextChannel(channelID)
	if ch == nil {
		return
	}
	if _, err := s.ChannelMessageSend(ch.ID, content); err != nil {
		slog.Warn("Failed to send notification", slog.String("channel", channelID), slog.Any("err", err))
	}
}

// NotifyEmbed is Notify for rich embeds.
func NotifyEmbed(channelID string, embed *discordgo.MessageEmbed) {
	ch, s := resolveTextChannel(channelID)
	if ch == nil {
		return
	}
	if _, err := s.ChannelMessageSendEmbed(ch.ID, embed); err != nil {
		slog.Warn("Failed to send notification", slog.String("channel", channelID), slog.Any("err", err))
	}
}

func resolveTextChannel(channelID string) (*discordgo.Channel, *discordgo.Session) {
	s := GetDiscord()
	if s == nil || channelID == "" {
		return nil, nil
	}

	ch, err := s.State.Channel(channelID)
	if err != nil {
		ch, err = s.Channel(channelID)
	}
	if err != nil {
		slog.Warn("Unknown notification channel", slog.String("channel", channelID))
		return nil, nil
	}

	if !textCapable(ch.Type) {
		return nil, nil
	}
	return ch, s
}

func textCapable(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeDM, discordgo.ChannelTypeGuildNews:
		return true
	}
	return false
}
