package discord

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/UberKitten/SoundBot/internal/audio"
	"github.com/UberKitten/SoundBot/internal/library"
	"github.com/UberKitten/SoundBot/internal/voice"
)

// How long after an entrance or exit sound before the same user can
// trigger another. Stops channel-hop spam.
const announceCooldown = 5 * time.Second

// Bot wires the playback engine to a Discord session and exposes it
// through prefix commands.
type Bot struct {
	session *discordgo.Session
	svc     *voice.Service
	lib     *library.Library
	prefix  string

	mu        sync.Mutex
	announced map[string]time.Time
}

// New creates a Bot. The session is not opened until Start.
func New(token string, lib *library.Library, factory *audio.Factory, prefix string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	bot := &Bot{
		session:   session,
		lib:       lib,
		prefix:    prefix,
		announced: make(map[string]time.Time),
	}
	bot.svc = voice.New(NewTransport(session), factory, NewDirectory(session))

	session.AddHandler(bot.ready)
	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.voiceStateUpdate)

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return bot, nil
}

// Voice exposes the playback engine for other control surfaces.
func (b *Bot) Voice() *voice.Service {
	return b.svc
}

// Start opens the gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening gateway connection: %w", err)
	}
	return nil
}

// Stop leaves all voice channels and closes the gateway connection.
func (b *Bot) Stop() error {
	b.svc.DisconnectAll()
	return b.session.Close()
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	logrus.WithFields(logrus.Fields{
		"username": s.State.User.Username,
		"guilds":   len(event.Guilds),
	}).Info("Bot is ready")
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.Bot || m.GuildID == "" {
		return
	}
	if !strings.HasPrefix(m.Content, b.prefix) {
		return
	}

	b.svc.RecordActivity(m.GuildID, m.Author.ID)

	reply := b.handleCommand(m)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		logrus.WithError(err).Debug("Failed to send command reply")
	}
}

// handleCommand dispatches one prefixed chat command and returns the reply
// text, empty when there is nothing to say.
func (b *Bot) handleCommand(m *discordgo.MessageCreate) string {
	fields := strings.Fields(strings.TrimPrefix(m.Content, b.prefix))
	if len(fields) == 0 {
		return ""
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	var reply string
	switch command {
	case "soundnow":
		reply = b.playSound(m, args, func(req voice.Request) voice.Reply {
			return b.svc.PlayNow(m.GuildID, req)
		})
	case "soundnext":
		reply = b.playSound(m, args, func(req voice.Request) voice.Reply {
			return b.svc.QueueSound(m.GuildID, req, true)
		})
	case "queue":
		reply = b.formatQueue(m.GuildID)
	case "skip":
		reply = b.svc.Skip(m.GuildID).Message
	case "stop":
		reply = b.svc.Stop(m.GuildID).Message
	case "pause":
		reply = b.svc.Pause(m.GuildID).Message
	case "resume":
		reply = b.svc.Resume(m.GuildID).Message
	case "sounds":
		reply = b.formatSounds()
	case "entrance":
		reply = b.setAnnounce(m.Author.ID, args, "entrance", b.lib.SetEntrance)
	case "exit":
		reply = b.setAnnounce(m.Author.ID, args, "exit", b.lib.SetExit)
	case "clearentrance":
		reply = b.clearAnnounce(m.Author.ID, "entrance", b.lib.ClearEntrance)
	case "clearexit":
		reply = b.clearAnnounce(m.Author.ID, "exit", b.lib.ClearExit)
	case "leave":
		if err := b.svc.Disconnect(m.GuildID); err != nil {
			logrus.WithError(err).Warn("Error leaving voice channel")
			reply = "Could not leave voice channel cleanly"
		} else {
			reply = "Left voice channel"
		}
	default:
		// Bare sound name: queue it.
		reply = b.playSound(m, []string{command}, func(req voice.Request) voice.Reply {
			return b.svc.QueueSound(m.GuildID, req, false)
		})
	}

	return reply
}

func (b *Bot) playSound(m *discordgo.MessageCreate, args []string, play func(voice.Request) voice.Reply) string {
	if len(args) == 0 {
		return "Which sound?"
	}
	name := strings.ToLower(args[0])
	path, duration, ok := b.lib.Resolve(name)
	if !ok {
		return fmt.Sprintf("Unknown sound: **%s**", name)
	}

	reply := play(voice.Request{
		Source:    path,
		Label:     name,
		Requester: m.Author.ID,
		Duration:  duration,
	})
	if reply.OK {
		b.lib.RecordPlay(name)
	}
	return reply.Message
}

func (b *Bot) formatQueue(guildID string) string {
	var sb strings.Builder
	if current, ok := b.svc.Current(guildID); ok {
		fmt.Fprintf(&sb, "Now playing: **%s**\n", current.Label)
	}
	items := b.svc.Queue(guildID)
	if sb.Len() == 0 && len(items) == 0 {
		return "Queue is empty"
	}
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. **%s**\n", i+1, item.Label)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) formatSounds() string {
	names := b.lib.Names()
	if len(names) == 0 {
		return "No sounds available"
	}
	return "Available sounds: " + strings.Join(names, ", ")
}

func (b *Bot) setAnnounce(userID string, args []string, kind string, set func(userID, name string) error) string {
	if len(args) == 0 {
		return fmt.Sprintf("Which sound should be your %s?", kind)
	}
	name := strings.ToLower(args[0])
	if err := set(userID, name); err != nil {
		return fmt.Sprintf("Unknown sound: **%s**", name)
	}
	return fmt.Sprintf("Your %s sound is now **%s**", kind, name)
}

func (b *Bot) clearAnnounce(userID, kind string, clear func(userID string) bool) string {
	if !clear(userID) {
		return fmt.Sprintf("You have no %s sound set", kind)
	}
	return fmt.Sprintf("Cleared your %s sound", kind)
}

func (b *Bot) voiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.UserID == s.State.User.ID {
		logrus.WithField("channel_id", vsu.ChannelID).Debug("Bot voice state updated")
		return
	}

	member, err := s.State.Member(vsu.GuildID, vsu.UserID)
	if err == nil && member.User != nil && member.User.Bot {
		return
	}

	var before string
	if vsu.BeforeUpdate != nil {
		before = vsu.BeforeUpdate.ChannelID
	}
	if vsu.ChannelID == before {
		return
	}

	b.svc.RecordActivity(vsu.GuildID, vsu.UserID)

	switch {
	case vsu.ChannelID != "":
		b.announce(vsu.GuildID, vsu.UserID, b.lib.Entrance)
	case before != "":
		b.announce(vsu.GuildID, vsu.UserID, b.lib.Exit)
		b.leaveIfAlone(s, vsu.GuildID, before)
	}
}

// announce queues the user's entrance or exit sound, rate limited per user.
func (b *Bot) announce(guildID, userID string, lookup func(userID string) (string, bool)) {
	name, ok := lookup(userID)
	if !ok {
		return
	}

	b.mu.Lock()
	last, seen := b.announced[userID]
	if seen && time.Since(last) < announceCooldown {
		b.mu.Unlock()
		return
	}
	b.announced[userID] = time.Now()
	b.mu.Unlock()

	path, duration, ok := b.lib.Resolve(name)
	if !ok {
		logrus.WithField("sound", name).Warn("Announce sound missing from library")
		return
	}

	reply := b.svc.QueueSound(guildID, voice.Request{
		Source:    path,
		Label:     name,
		Requester: userID,
		Duration:  duration,
	}, false)
	if !reply.OK {
		logrus.WithFields(logrus.Fields{
			"guild_id": guildID,
			"sound":    name,
		}).Debug("Could not play announce sound")
	}
}

// leaveIfAlone disconnects when the last listener leaves the bot's channel.
func (b *Bot) leaveIfAlone(s *discordgo.Session, guildID, channelID string) {
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return
	}

	botInChannel := false
	listeners := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if vs.UserID == s.State.User.ID {
			botInChannel = true
			continue
		}
		member, err := s.State.Member(guildID, vs.UserID)
		if err == nil && member.User != nil && member.User.Bot {
			continue
		}
		listeners++
	}

	if botInChannel && listeners == 0 {
		logrus.WithFields(logrus.Fields{
			"guild_id":   guildID,
			"channel_id": channelID,
		}).Info("Channel emptied, leaving")
		if err := b.svc.Disconnect(guildID); err != nil {
			logrus.WithError(err).Warn("Error leaving emptied channel")
		}
	}
}
