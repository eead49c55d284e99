package voice

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// selector picks the voice channel a sound should play in.
//
// Priority: the requester's own channel wins outright. Otherwise channels
// with at least one non-bot member are ranked by how many recent soundbot
// users they hold, then by total member count, so playback lands where the
// bot was recently used or, failing that, where the audience is largest.
type selector struct {
	dir      Directory
	activity *ActivityTracker
}

func (cs *selector) findBestChannel(guildID, requesterID string) (string, bool) {
	if requesterID != "" {
		if channelID, ok := cs.dir.UserChannel(guildID, requesterID); ok {
			logrus.WithFields(logrus.Fields{
				"guild_id":   guildID,
				"channel_id": channelID,
				"user_id":    requesterID,
			}).Debug("Using requester's current channel")
			return channelID, true
		}
	}

	type candidate struct {
		channelID string
		members   int
		recent    int
	}

	recentUsers := cs.activity.RecentUsers(guildID, time.Now())
	var populated []candidate
	for _, ch := range cs.dir.VoiceChannels(guildID) {
		members := 0
		recent := 0
		for _, m := range ch.Members {
			if m.Bot {
				continue
			}
			members++
			if _, ok := recentUsers[m.ID]; ok {
				recent++
			}
		}
		if members == 0 {
			continue
		}
		populated = append(populated, candidate{channelID: ch.ID, members: members, recent: recent})
	}

	if len(populated) == 0 {
		logrus.WithField("guild_id", guildID).Debug("No populated voice channels found")
		return "", false
	}

	sort.SliceStable(populated, func(i, j int) bool {
		if populated[i].recent != populated[j].recent {
			return populated[i].recent > populated[j].recent
		}
		return populated[i].members > populated[j].members
	})

	best := populated[0]
	logrus.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": best.channelID,
		"members":    best.members,
		"recent":     best.recent,
	}).Debug("Selected voice channel")
	return best.channelID, true
}
