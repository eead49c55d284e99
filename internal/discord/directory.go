package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/UberKitten/SoundBot/internal/voice"
)

// Directory answers voice channel membership queries from the session's
// state cache. It implements voice.Directory.
type Directory struct {
	session *discordgo.Session
}

// NewDirectory returns a Directory backed by the session's state.
func NewDirectory(session *discordgo.Session) *Directory {
	return &Directory{session: session}
}

// VoiceChannels lists the guild's voice channels with their occupants.
func (d *Directory) VoiceChannels(guildID string) []voice.Channel {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		logrus.WithError(err).WithField("guild_id", guildID).Debug("Guild not in state cache")
		return nil
	}

	members := make(map[string][]voice.Member)
	for _, vs := range guild.VoiceStates {
		members[vs.ChannelID] = append(members[vs.ChannelID], voice.Member{
			ID:  vs.UserID,
			Bot: d.isBot(guildID, vs.UserID),
		})
	}

	var channels []voice.Channel
	for _, ch := range guild.Channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		channels = append(channels, voice.Channel{
			ID:      ch.ID,
			Name:    ch.Name,
			Members: members[ch.ID],
		})
	}
	return channels
}

// UserChannel reports which voice channel the user currently occupies.
func (d *Directory) UserChannel(guildID, userID string) (string, bool) {
	guild, err := d.session.State.Guild(guildID)
	if err != nil {
		return "", false
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func (d *Directory) isBot(guildID, userID string) bool {
	member, err := d.session.State.Member(guildID, userID)
	if err != nil || member.User == nil {
		return false
	}
	return member.User.Bot
}
