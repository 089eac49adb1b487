package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/ratelimit"
	"github.com/whisper/roomchat/internal/render"
	"github.com/whisper/roomchat/internal/rest"
	"github.com/whisper/roomchat/internal/room"
)

var chatCmd = &cobra.Command{
	Use:   "chat [room-id]",
	Short: "Open the interactive chat, optionally entering a room",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

const chatHelp = `Commands:
  /join <id>             enter a room, joining it first if needed
  /leave                 leave the current room
  /create <name> [desc]  create a room and enter it
  /rename <name>         rename the current room
  /members               list members of the current room
  /status <status>       set presence: online, away or offline
  /rooms                 list your rooms and rooms you can join
  /typing                tell the room you are composing
  /help                  show this help
  /quit                  exit
Anything else is sent to the current room.`

// console serialises writes from the input loop and client callbacks.
type console struct {
	mu     sync.Mutex
	w      io.Writer
	typing string
}

func (c *console) println(line string) {
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// setTyping prints the typing line when it changes.
func (c *console) setTyping(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line == c.typing {
		return
	}
	c.typing = line
	if line == "" {
		line = "-- nobody is typing"
	}
	fmt.Fprintln(c.w, line)
}

// chatSession is one interactive chat run.
type chatSession struct {
	username string
	api      *rest.Client
	client   *room.Client
	limiter  *ratelimit.Limiter // nil without Redis
	r        *render.Renderer
	out      *console
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, api, err := requireSession(ctx, store)
	if err != nil {
		return err
	}

	s := &chatSession{
		username: sess.Username,
		api:      api,
		r:        render.New(sess.Username, time.Local),
		out:      &console{w: cmd.OutOrStdout()},
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		s.limiter = ratelimit.NewLimiter(rdb)
	}
	s.client = room.New(newTransport(), api,
		room.WithConfig(cfg.Room()),
		room.WithHandlers(s.handlers()),
	)
	defer s.client.Disconnect()

	s.out.println(fmt.Sprintf("Signed in as %s. Type /help for commands.", sess.Ref().Name()))
	if err := s.client.Connect(ctx, sess); err != nil {
		s.out.println(fmt.Sprintf("!! %v (retrying every %s)", err, cfg.RetryInterval))
	}
	if len(args) == 1 {
		s.enter(ctx, args[0])
	} else {
		s.printRooms(ctx)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

func (s *chatSession) handlers() room.Handlers {
	return room.Handlers{
		OnStateChange: func(st room.State) {
			s.out.println("-- connection " + st.String())
		},
		OnRoomLoaded: func(roomID string, members []protocol.Member, messages []protocol.ChatMessage) {
			s.out.println(fmt.Sprintf("== room #%s, %s", roomID, render.MemberCount(len(members))))
			for _, m := range messages {
				s.out.println(s.r.Message(m))
			}
		},
		OnMessage: func(m protocol.ChatMessage) {
			s.out.println(s.r.Message(m))
		},
		OnRoomEvent: func(ev protocol.RoomEvent) {
			s.out.println(s.r.Event(ev))
		},
		OnMembers: func(_ string, members []protocol.Member) {
			s.out.println("-- " + render.MemberCount(len(members)))
		},
		OnTyping: func(_ string, typing []protocol.UserRef) {
			s.out.setTyping(s.r.Typing(typing))
		},
		OnPresence: func(username string, st protocol.Status) {
			s.out.println(s.r.Presence(username, st))
		},
		OnError: func(err error) {
			s.out.println("!! " + err.Error())
		},
	}
}

// command is one parsed input line.
type command struct {
	name string // empty for plain text
	args []string
	rest string // everything after the command name
	text string // the whole line for plain text
}

func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "//") {
		// "//text" escapes a message that starts with a slash.
		return command{text: trimmed[1:]}
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{text: line}
	}
	name, rest, _ := strings.Cut(trimmed[1:], " ")
	rest = strings.TrimSpace(rest)
	return command{name: strings.ToLower(name), args: strings.Fields(rest), rest: rest}
}

// handle runs one input line and reports whether the user asked to quit.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	cmd := parseCommand(line)
	switch cmd.name {
	case "":
		if strings.TrimSpace(cmd.text) == "" {
			return false
		}
		if s.throttled(ctx, ratelimit.RuleSend) {
			return false
		}
		s.report(s.client.SendMessage(cmd.text))
	case "quit", "exit":
		return true
	case "help":
		s.out.println(chatHelp)
	case "join":
		if len(cmd.args) != 1 {
			s.out.println("usage: /join <room-id>")
			return false
		}
		if s.throttled(ctx, ratelimit.RuleRoomAction) {
			return false
		}
		s.enter(ctx, cmd.args[0])
	case "leave":
		s.leave(ctx)
	case "create":
		if len(cmd.args) == 0 {
			s.out.println("usage: /create <name> [description]")
			return false
		}
		if s.throttled(ctx, ratelimit.RuleRoomAction) {
			return false
		}
		s.create(ctx, cmd.args[0], strings.TrimSpace(strings.TrimPrefix(cmd.rest, cmd.args[0])))
	case "rename":
		if s.throttled(ctx, ratelimit.RuleRoomAction) {
			return false
		}
		s.rename(ctx, cmd.rest)
	case "members":
		s.members(ctx)
	case "status":
		if len(cmd.args) != 1 {
			s.out.println("usage: /status online|away|offline")
			return false
		}
		s.report(s.client.SetStatus(cmd.args[0]))
	case "rooms":
		s.printRooms(ctx)
	case "typing":
		s.client.NotifyTyping()
	default:
		s.out.println(fmt.Sprintf("unknown command /%s, try /help", cmd.name))
	}
	return false
}

// throttled reports whether rule refuses another action, telling the user
// how long to wait.
func (s *chatSession) throttled(ctx context.Context, rule ratelimit.Rule) bool {
	ok, _ := s.limiter.Allow(ctx, s.username, rule)
	if ok {
		return false
	}
	wait := s.limiter.RetryAfter(ctx, s.username, rule).Round(time.Second)
	s.out.println(fmt.Sprintf("!! slow down, try again in %s", wait))
	return true
}

func (s *chatSession) report(err error) {
	if err == nil {
		return
	}
	var verr *chat.ValidationError
	var rerr *rest.Error
	switch {
	case errors.As(err, &verr):
		s.out.println("!! " + verr.Error())
	case errors.As(err, &rerr):
		s.out.println("!! " + rerr.Message)
	case errors.Is(err, room.ErrNoRoom):
		s.out.println("!! enter a room first with /join <id>")
	default:
		s.out.println("!! " + err.Error())
	}
}

// enter selects roomID, joining it over REST first unless the user is
// already a member.
func (s *chatSession) enter(ctx context.Context, roomID string) {
	member, err := s.isMember(ctx, roomID)
	if err != nil {
		s.report(err)
		return
	}
	if !member {
		if err := s.api.JoinRoom(ctx, roomID); err != nil {
			s.report(err)
			return
		}
		log.Info().Str("room", roomID).Msg("[chat] joined room")
	}
	s.report(s.client.SelectRoom(ctx, roomID))
}

func (s *chatSession) isMember(ctx context.Context, roomID string) (bool, error) {
	rooms, err := s.api.MyRooms(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range rooms {
		if string(m.Room.ID) == roomID {
			return true, nil
		}
	}
	return false, nil
}

func (s *chatSession) leave(ctx context.Context) {
	roomID := s.client.CurrentRoom()
	if roomID == "" {
		s.report(room.ErrNoRoom)
		return
	}
	s.client.CloseRoom()
	if err := s.api.LeaveRoom(ctx, roomID); err != nil {
		s.report(err)
		return
	}
	s.out.println("-- left room #" + roomID)
}

func (s *chatSession) create(ctx context.Context, name, description string) {
	created, err := s.api.CreateRoom(ctx, rest.CreateRoomRequest{Name: name, Description: description})
	if err != nil {
		s.report(err)
		return
	}
	s.out.println("-- created " + s.r.Room(created))
	s.report(s.client.SelectRoom(ctx, string(created.ID)))
}

func (s *chatSession) rename(ctx context.Context, name string) {
	roomID := s.client.CurrentRoom()
	if roomID == "" {
		s.report(room.ErrNoRoom)
		return
	}
	if _, err := s.api.RenameRoom(ctx, roomID, name); err != nil {
		s.report(err)
	}
}

func (s *chatSession) members(ctx context.Context) {
	if err := s.client.RefreshMembers(ctx); err != nil {
		s.report(err)
		return
	}
	snap := s.client.Snapshot()
	for _, m := range snap.Members {
		s.out.println("  " + s.r.Member(m))
	}
}

func (s *chatSession) printRooms(ctx context.Context) {
	var b strings.Builder
	if err := printMyRooms(ctx, &b, s.api, s.r); err != nil {
		s.report(err)
		return
	}
	if err := printAvailable(ctx, &b, s.api, s.r); err != nil {
		s.report(err)
		return
	}
	s.out.println(strings.TrimRight(b.String(), "\n"))
}
