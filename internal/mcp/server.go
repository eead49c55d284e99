// Package mcp exposes the soundboard over the Model Context Protocol so
// agent tooling can drive playback alongside the chat commands.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/UberKitten/SoundBot/internal/library"
	"github.com/UberKitten/SoundBot/internal/voice"
)

// Server wraps an MCP server around the playback engine.
type Server struct {
	svc       *voice.Service
	lib       *library.Library
	mcpServer *mcp.Server
}

// EmptyInput is used by tools that take no arguments.
type EmptyInput struct{}

// PlaySoundInput identifies a sound and where to play it.
type PlaySoundInput struct {
	GuildID string `json:"guild_id" jsonschema:"the guild to play in"`
	Sound   string `json:"sound" jsonschema:"name of the sound to play"`
	UserID  string `json:"user_id,omitempty" jsonschema:"user requesting the sound, used to pick a channel"`
	Next    bool   `json:"next,omitempty" jsonschema:"insert at the front of the queue"`
}

// GuildInput identifies a guild.
type GuildInput struct {
	GuildID string `json:"guild_id" jsonschema:"the guild to act on"`
}

// NewServer creates the MCP server and registers its tools.
func NewServer(svc *voice.Service, lib *library.Library) *Server {
	s := &Server{
		svc: svc,
		lib: lib,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "soundbot",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "play_sound",
		Description: "Queue a sound for playback in a guild's voice channel",
	}, s.handlePlaySound)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "play_sound_now",
		Description: "Play a sound immediately, interrupting whatever is playing",
	}, s.handlePlaySoundNow)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "skip",
		Description: "Skip the currently playing sound",
	}, s.handleSkip)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "stop_playback",
		Description: "Stop playback and clear the guild's queue",
	}, s.handleStop)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "pause_playback",
		Description: "Pause the currently playing sound",
	}, s.handlePause)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "resume_playback",
		Description: "Resume paused playback",
	}, s.handleResume)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_queue",
		Description: "Show the current sound and queued sounds for a guild",
	}, s.handleGetQueue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_sounds",
		Description: "List all sounds in the library",
	}, s.handleListSounds)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "disconnect_all",
		Description: "Disconnect from every guild's voice channel",
	}, s.handleDisconnectAll)

	return s
}

// Start serves MCP over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	logrus.Info("Starting MCP server on stdio")
	return s.mcpServer.Run(ctx, mcp.NewStdioTransport())
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (s *Server) resolve(in PlaySoundInput) (voice.Request, error) {
	name := strings.ToLower(in.Sound)
	path, duration, ok := s.lib.Resolve(name)
	if !ok {
		return voice.Request{}, fmt.Errorf("unknown sound: %s", in.Sound)
	}
	return voice.Request{
		Source:    path,
		Label:     name,
		Requester: in.UserID,
		Duration:  duration,
	}, nil
}

func (s *Server) handlePlaySound(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[PlaySoundInput]) (*mcp.CallToolResultFor[any], error) {
	req, err := s.resolve(params.Arguments)
	if err != nil {
		return nil, err
	}
	reply := s.svc.QueueSound(params.Arguments.GuildID, req, params.Arguments.Next)
	if reply.OK {
		s.lib.RecordPlay(req.Label)
	}
	return textResult(reply.Message), nil
}

func (s *Server) handlePlaySoundNow(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[PlaySoundInput]) (*mcp.CallToolResultFor[any], error) {
	req, err := s.resolve(params.Arguments)
	if err != nil {
		return nil, err
	}
	reply := s.svc.PlayNow(params.Arguments.GuildID, req)
	if reply.OK {
		s.lib.RecordPlay(req.Label)
	}
	return textResult(reply.Message), nil
}

func (s *Server) handleSkip(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	return textResult(s.svc.Skip(params.Arguments.GuildID).Message), nil
}

func (s *Server) handleStop(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	return textResult(s.svc.Stop(params.Arguments.GuildID).Message), nil
}

func (s *Server) handlePause(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	return textResult(s.svc.Pause(params.Arguments.GuildID).Message), nil
}

func (s *Server) handleResume(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	return textResult(s.svc.Resume(params.Arguments.GuildID).Message), nil
}

func (s *Server) handleGetQueue(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[GuildInput]) (*mcp.CallToolResultFor[any], error) {
	guildID := params.Arguments.GuildID

	var sb strings.Builder
	if current, ok := s.svc.Current(guildID); ok {
		fmt.Fprintf(&sb, "Now playing: %s\n", current.Label)
	}
	items := s.svc.Queue(guildID)
	if sb.Len() == 0 && len(items) == 0 {
		return textResult("Queue is empty"), nil
	}
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item.Label)
	}
	return textResult(strings.TrimRight(sb.String(), "\n")), nil
}

func (s *Server) handleListSounds(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	names := s.lib.Names()
	if len(names) == 0 {
		return textResult("No sounds in the library"), nil
	}
	return textResult(strings.Join(names, "\n")), nil
}

func (s *Server) handleDisconnectAll(ctx context.Context, sess *mcp.ServerSession, params *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[any], error) {
	s.svc.DisconnectAll()
	return textResult("Disconnected from all voice channels"), nil
}
