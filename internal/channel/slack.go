package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"persona/internal/domain"
)

const slackMaxMsgLen = 4000

// slackEmoji maps Slack reaction names onto the unicode emoji the agent
// compares against.
var slackEmoji = map[string]string{
	"white_check_mark":   "✅",
	"heavy_check_mark":   "✔️",
	"+1":                 "👍",
	"thumbsup":           "👍",
	"-1":                 "👎",
	"x":                  "❌",
}

type SlackConfig struct {
	BotToken string
	AppToken string
	OwnerID  string
	Commands []Command
	Logger   *slog.Logger
}

// Slack runs the agent over Socket Mode. A new socket client is started on
// every Open; the Web API client is shared.
type Slack struct {
	cfg     SlackConfig
	api     *slack.Client
	logger  *slog.Logger
	session session

	messages  listeners[domain.InboundEvent]
	reactions listeners[domain.Reaction]

	mu     sync.Mutex
	self   domain.Identity
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSlack(cfg SlackConfig) *Slack {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		cfg:    cfg,
		api:    slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken)),
		logger: logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Open authenticates and returns once the socket reports a connection.
func (s *Slack) Open(ctx context.Context) error {
	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.mu.Lock()
	s.self = domain.Identity{ID: auth.UserID, Name: auth.User}
	s.mu.Unlock()

	s.session.begin()
	runCtx, cancel := context.WithCancel(context.Background())
	socket := socketmode.New(s.api)
	connected := make(chan struct{})
	runErr := make(chan error, 1)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		err := socket.RunContext(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("slack socket mode stopped", "err", err)
		}
		runErr <- err
		s.session.end()
	}()
	go func() {
		defer s.wg.Done()
		s.eventLoop(runCtx, socket, connected)
	}()

	select {
	case <-connected:
		s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID)
		return nil
	case err := <-runErr:
		cancel()
		s.wg.Wait()
		return fmt.Errorf("slack socket mode: %w", err)
	case <-ctx.Done():
		cancel()
		s.wg.Wait()
		return ctx.Err()
	}
}

func (s *Slack) eventLoop(ctx context.Context, socket *socketmode.Client, connected chan struct{}) {
	var once sync.Once
	for {
		var evt socketmode.Event
		select {
		case <-ctx.Done():
			return
		case evt = <-socket.Events:
		}

		switch evt.Type {
		case socketmode.EventTypeConnected:
			once.Do(func() { close(connected) })

		case socketmode.EventTypeEventsAPI:
			api, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			socket.Ack(*evt.Request)
			s.handleEventsAPI(api)

		case socketmode.EventTypeSlashCommand:
			cmd, ok := evt.Data.(slack.SlashCommand)
			if !ok {
				continue
			}
			socket.Ack(*evt.Request, map[string]any{"text": s.runCommand(ctx, cmd)})

		default:
			if evt.Request != nil {
				socket.Ack(*evt.Request)
			}
		}
	}
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Edits, joins and deletions arrive as subtypes.
		if ev.SubType != "" && ev.SubType != "bot_message" {
			return
		}
		author := ev.User
		if author == "" {
			author = ev.BotID
		}
		in := domain.InboundEvent{
			ID:          slackMessageID(ev.Channel, ev.TimeStamp),
			AuthorID:    author,
			AuthorName:  ev.Username,
			AuthorIsBot: ev.BotID != "",
			Content:     ev.Text,
			ContextID:   ev.Channel,
			ContextKind: domain.ContextText,
			Timestamp:   slackTime(ev.TimeStamp),
		}
		switch {
		case ev.ChannelType == "im" || ev.ChannelType == "mpim":
			in.ContextKind = domain.ContextDirect
		case ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp:
			in.ContextKind = domain.ContextThread
			in.ContextID = ev.Channel + "/" + ev.ThreadTimeStamp
			in.ReplyToID = slackMessageID(ev.Channel, ev.ThreadTimeStamp)
		}
		s.messages.emit(in)

	case *slackevents.ReactionAddedEvent:
		emoji := ev.Reaction
		if u, ok := slackEmoji[emoji]; ok {
			emoji = u
		}
		s.reactions.emit(domain.Reaction{
			MessageID:       slackMessageID(ev.Item.Channel, ev.Item.Timestamp),
			ContextID:       ev.Item.Channel,
			UserID:          ev.User,
			Emoji:           emoji,
			MessageAuthorID: ev.ItemUser,
		})
	}
}

func (s *Slack) runCommand(ctx context.Context, cmd slack.SlashCommand) string {
	c, ok := findCommand(s.cfg.Commands, cmd.Command)
	if !ok {
		return "unknown command " + cmd.Command
	}
	s.logger.Info("slack slash command", "command", cmd.Command, "user", cmd.UserID)
	return c.Run(ctx, strings.TrimSpace(cmd.Text))
}

func (s *Slack) Done() <-chan struct{} { return s.session.Done() }

func (s *Slack) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.session.end()
	return nil
}

func (s *Slack) Self() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Slack) Owner(context.Context) (domain.Identity, error) {
	if s.cfg.OwnerID == "" {
		return domain.Identity{}, fmt.Errorf("slack owner: %w", domain.ErrNotFound)
	}
	return domain.Identity{ID: s.cfg.OwnerID}, nil
}

func (s *Slack) OnMessage(fn func(domain.InboundEvent)) func() { return s.messages.add(fn) }

func (s *Slack) OnReaction(fn func(domain.Reaction)) func() { return s.reactions.add(fn) }

func (s *Slack) SendLoading(ctx context.Context, contextID, text string) (domain.Handle, error) {
	channel, thread := splitSlackContext(contextID)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	ch, ts, err := s.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("%w: slack post: %w", domain.ErrDelivery, err)
	}
	return domain.Handle{ContextID: contextID, MessageID: slackMessageID(ch, ts), Editable: true}, nil
}

func (s *Slack) Edit(ctx context.Context, h domain.Handle, msg domain.OutboundMessage) error {
	if !h.Editable {
		return domain.ErrNotEditable
	}
	channel, ts := splitSlackMessageID(h.MessageID)
	var opts []slack.MsgOption
	if msg.Embed != nil {
		opts = append(opts,
			slack.MsgOptionText(" ", false),
			slack.MsgOptionAttachments(slack.Attachment{
				Title:  msg.Embed.Title,
				Text:   fitMessage(msg.Embed.Description, slackMaxMsgLen),
				Footer: msg.Embed.Footer,
			}),
		)
	} else {
		opts = append(opts, slack.MsgOptionText(fitMessage(msg.Content, slackMaxMsgLen), false))
	}
	if _, _, _, err := s.api.UpdateMessageContext(ctx, channel, ts, opts...); err != nil {
		var se slack.SlackErrorResponse
		if errors.As(err, &se) && (se.Err == "message_not_found" || se.Err == "cant_update_message") {
			return fmt.Errorf("%w: %w", domain.ErrDelivery, domain.ErrNotEditable)
		}
		return fmt.Errorf("%w: slack update: %w", domain.ErrDelivery, err)
	}
	return nil
}

// ClearRegistrations is a no-op: slash commands are declared in the app
// manifest, not at runtime.
func (s *Slack) ClearRegistrations(context.Context) error { return nil }

func splitSlackContext(id string) (channel, thread string) {
	channel, thread, _ = strings.Cut(id, "/")
	return channel, thread
}

// Message timestamps are only unique within a channel, so ids carry both.
func slackMessageID(channel, ts string) string { return channel + ":" + ts }

func splitSlackMessageID(id string) (channel, ts string) {
	channel, ts, _ = strings.Cut(id, ":")
	return channel, ts
}

func slackTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now()
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}
