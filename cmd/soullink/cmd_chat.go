package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/soullink/internal/groupsync"
	"github.com/xaenox/soullink/internal/llm"
	"github.com/xaenox/soullink/internal/models"
	"github.com/xaenox/soullink/internal/notify"
	"github.com/xaenox/soullink/internal/session"
)

const chatHelp = `commands:
  /new                         start a new conversation
  /persona [prompt|reset]      show or replace the companion's persona
  /milestone <title>           record a milestone
  /milestones                  list milestones
  /group <id>                  join a group chat and follow it
  /newgroup <name>             create a group chat with a moderator
  /addai <name> <role> [about] invite an AI member (moderator, guide, entertainer)
  /members                     list the AI members
  /removeai <name>             remove an AI member
  /mute <name>, /unmute <name> pause or resume an AI member
  /rename <name>               rename the group
  /quitgroup                   leave the group for good
  /dissolve                    delete the group (creator only)
  /leave                       go back to the companion
  /quit                        exit`

func chatCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the companion from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer a.Close()
			a.serveMetrics(ctx)

			sess := a.session()
			user, err := chatUser(ctx, sess, name)
			if err != nil {
				return fmt.Errorf("chat: resolving user: %w", err)
			}

			r := &repl{app: a, user: user}
			events, unsubscribe := a.broadcaster.Subscribe(32)
			defer unsubscribe()
			go r.printEvents(ctx, events)

			if cfg.Proactive.Enabled {
				timer := a.proactiveTimer()
				timer.Start(ctx)
				defer timer.Stop()
			}

			poller := groupsync.NewPoller(a.store, cfg.GroupSync.Interval, logger, a.recorder)
			defer poller.Disable()
			r.poller = poller

			fmt.Printf("Hi %s. Type /help for commands.\n", user.Name)
			return r.loop(ctx, sess)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "sign in under this name instead of the session's guest")
	return cmd
}

// chatUser signs in as name, or resumes the session's user when name is empty.
func chatUser(ctx context.Context, sess *session.Session, name string) (*models.User, error) {
	if name == "" {
		return sess.CurrentUser(ctx)
	}
	return sess.SignIn(ctx, "cli:"+name, name, "")
}

type repl struct {
	*app
	user   *models.User
	poller *groupsync.Poller

	// serializes terminal output between the prompt loop and background events
	mu sync.Mutex
}

func (r *repl) say(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Printf(format+"\n", args...)
}

func (r *repl) loop(ctx context.Context, sess *session.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
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
			if quit := r.handle(ctx, sess, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (r *repl) handle(ctx context.Context, sess *session.Session, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		r.say(chatHelp)
	case "/new":
		if _, err := sess.NewConversation(ctx); err != nil {
			r.say("! %v", err)
			return false
		}
		r.say("(new conversation)")
	case "/newgroup":
		group, err := r.groups.CreateGroup(ctx, r.user.ID, arg, "")
		if err != nil {
			r.say("! %v", err)
			return false
		}
		if _, _, err := r.groups.AddAIMember(ctx, group.ID, "小调", models.AIRoleModerator, ""); err != nil {
			r.say("! %v", err)
		}
		r.say("(group %s created)", group.ID)
		r.follow(ctx, group.ID)
	case "/group":
		if _, err := r.groups.AddMember(ctx, arg, r.user.ID); err != nil {
			r.say("! %v", err)
			return false
		}
		r.follow(ctx, arg)
	case "/leave":
		r.poller.Disable()
		r.say("(back with the companion)")
	case "/persona":
		r.persona(ctx, arg)
	case "/milestone":
		m, err := r.companion.AddMilestone(ctx, sess, models.Milestone{Title: arg, Type: models.MilestoneCustom})
		if err != nil {
			r.say("! %v", err)
			return false
		}
		r.say("(milestone %q recorded)", m.Title)
	case "/milestones":
		milestones, err := r.companion.Milestones(ctx, sess)
		if err != nil {
			r.say("! %v", err)
			return false
		}
		for _, m := range milestones {
			r.say("%s  %s", m.Date.Format(time.DateOnly), m.Title)
		}
	case "/addai", "/members", "/removeai", "/mute", "/unmute", "/rename", "/quitgroup", "/dissolve":
		groupID, ok := r.poller.Watching()
		if !ok {
			r.say("! not in a group, use /group or /newgroup first")
			return false
		}
		if err := r.manage(ctx, groupID, cmd, arg); err != nil {
			r.say("! %v", err)
		}
	default:
		if groupID, ok := r.poller.Watching(); ok {
			r.post(ctx, groupID, line)
			return false
		}
		r.chat(ctx, sess, line)
	}
	return false
}

func (r *repl) persona(ctx context.Context, prompt string) {
	if prompt == "" {
		current, err := r.companion.SelectedPersonality(ctx)
		if err != nil {
			r.say("! %v", err)
			return
		}
		r.say("%s", current)
		return
	}
	if prompt == "reset" {
		prompt = ""
	}
	if err := r.companion.SelectPersonality(ctx, prompt); err != nil {
		r.say("! %v", err)
		return
	}
	r.say("(persona updated)")
}

// manage runs the commands that change the followed group.
func (r *repl) manage(ctx context.Context, groupID, cmd, arg string) error {
	switch cmd {
	case "/addai":
		args := strings.Fields(arg)
		if len(args) < 2 {
			return fmt.Errorf("usage: /addai <name> <role> [about]")
		}
		role, ok := models.ParseAIRole(args[1])
		if !ok {
			return fmt.Errorf("unknown role %q", args[1])
		}
		member, _, err := r.groups.AddAIMember(ctx, groupID, args[0], role, strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		r.say("(%s joined as %s)", member.Name, role)
		r.poller.CheckNow(ctx)
	case "/members":
		members, err := r.groups.AIMembers(ctx, groupID)
		if err != nil {
			return err
		}
		for _, m := range members {
			state := "active"
			if !m.IsActive {
				state = "muted"
			}
			r.say("%s  %s  %s", m.Name, m.Role, state)
		}
	case "/removeai", "/mute", "/unmute":
		member, err := r.groups.FindAIMember(ctx, groupID, arg)
		if err != nil {
			return err
		}
		switch cmd {
		case "/removeai":
			err = r.groups.RemoveAIMember(ctx, member.ID)
		default:
			_, err = r.groups.SetAIMemberActive(ctx, member.ID, cmd == "/unmute")
		}
		if err != nil {
			return err
		}
		r.say("(%s: %s)", strings.TrimPrefix(cmd, "/"), member.Name)
	case "/rename":
		group, err := r.groups.Rename(ctx, groupID, arg)
		if err != nil {
			return err
		}
		r.say("(group renamed to %s)", group.Name)
	case "/quitgroup":
		if err := r.groups.RemoveMember(ctx, groupID, r.user.ID); err != nil {
			return err
		}
		r.poller.Disable()
		r.say("(left the group)")
	case "/dissolve":
		if err := r.groups.Dissolve(ctx, groupID, r.user.ID); err != nil {
			return err
		}
		r.poller.Disable()
		r.say("(group deleted)")
	}
	return nil
}

func (r *repl) chat(ctx context.Context, sess *session.Session, line string) {
	res, err := r.companion.Send(ctx, sess, line, func(reply models.Message) {
		r.say(llm.DefaultPersonality.Name+": %s", reply.Content)
	})
	if err != nil {
		r.say("! %v", err)
		return
	}
	if res.Err != nil {
		r.say("! %s", res.Err.Message)
	}
}

func (r *repl) post(ctx context.Context, groupID, line string) {
	res, err := r.groups.Post(ctx, groupID, r.user.ID, line)
	if err != nil {
		r.say("! %v", err)
		return
	}
	if res.Err != nil {
		r.say("! %s", res.Err.Message)
	}
	r.poller.CheckNow(ctx)
}

func (r *repl) follow(ctx context.Context, groupID string) {
	r.poller.Enable(ctx, groupID, func(ctx context.Context, groupID string, messages []models.GroupMessage) {
		var incoming []models.GroupMessage
		for _, m := range messages {
			if id, ok := m.Sender.UserID(); ok && id == r.user.ID {
				continue
			}
			incoming = append(incoming, m)
		}
		turns, err := r.groups.Render(ctx, groupID, incoming)
		if err != nil {
			logger.Error("Failed to render group messages", zap.Error(err))
			return
		}
		for _, t := range turns {
			r.say("[群] %s: %s", t.Sender, t.Content)
		}
	})
	r.say("(following group %s, /leave to stop)", groupID)
}

func (r *repl) printEvents(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.UserID != r.user.ID {
				continue
			}
			switch ev.Kind {
			case notify.KindProactiveMessage:
				r.say(llm.DefaultPersonality.Name+": %s", ev.Text)
			case notify.KindAchievement:
				r.say("🏆 %s", ev.Text)
			}
		}
	}
}
