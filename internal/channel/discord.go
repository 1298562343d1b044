package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"persona/internal/domain"
)

const discordMaxMsgLen = 2000

type DiscordConfig struct {
	Token    string
	GuildID  string // restricts events and command registration to one guild
	OwnerID  string // overrides the application owner
	Commands []Command
	Logger   *slog.Logger
}

// Discord runs the agent as a Discord bot. The discordgo session is created
// once and reused across Open/Close, so handlers added with AddHandler
// survive reconnects.
type Discord struct {
	cfg     DiscordConfig
	s       *discordgo.Session
	logger  *slog.Logger
	session session

	mu       sync.Mutex
	self     domain.Identity
	owner    domain.Identity
	commands []*discordgo.ApplicationCommand
	fetchCtx context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessageReactions
	// The supervisor owns reconnection.
	s.ShouldReconnectOnError = false
	// Handlers run one at a time in gateway order; the agent relies on
	// messages being admitted in the order they arrived.
	s.SyncEvents = true
	s.State.MaxMessageCount = 200

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discord{cfg: cfg, s: s, logger: logger}

	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.logger.Warn("discord session disconnected")
		d.session.end()
	})
	s.AddHandler(d.handleInteraction)
	return d, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Open(ctx context.Context) error {
	d.session.begin()
	if err := d.s.Open(); err != nil {
		d.session.end()
		return fmt.Errorf("discord connect: %w", err)
	}
	user := d.s.State.User
	fetchCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.self = domain.Identity{ID: user.ID, Name: user.Username}
	d.fetchCtx, d.cancel = fetchCtx, cancel
	d.mu.Unlock()
	d.logger.Info("discord bot connected", "user", user.Username)

	d.registerCommands(ctx)
	return nil
}

func (d *Discord) Done() <-chan struct{} { return d.session.Done() }

func (d *Discord) Close() error {
	err := d.s.Close()
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.session.end()
	return err
}

func (d *Discord) Self() domain.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

// Owner returns the configured owner, or the owner of the bot application.
func (d *Discord) Owner(context.Context) (domain.Identity, error) {
	d.mu.Lock()
	owner := d.owner
	d.mu.Unlock()
	if owner.ID != "" {
		return owner, nil
	}
	if d.cfg.OwnerID != "" {
		owner = domain.Identity{ID: d.cfg.OwnerID}
	} else {
		app, err := d.s.Application("@me")
		if err != nil {
			return domain.Identity{}, fmt.Errorf("discord application: %w", err)
		}
		if app.Owner == nil {
			return domain.Identity{}, fmt.Errorf("discord application owner: %w", domain.ErrNotFound)
		}
		owner = domain.Identity{ID: app.Owner.ID, Name: app.Owner.Username}
	}
	d.mu.Lock()
	d.owner = owner
	d.mu.Unlock()
	return owner, nil
}

func (d *Discord) OnMessage(fn func(domain.InboundEvent)) func() {
	return d.s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		if d.cfg.GuildID != "" && m.GuildID != "" && m.GuildID != d.cfg.GuildID {
			return
		}
		ev := domain.InboundEvent{
			ID:          m.ID,
			AuthorID:    m.Author.ID,
			AuthorName:  m.Author.Username,
			AuthorIsBot: m.Author.Bot,
			Content:     m.Content,
			ContextID:   m.ChannelID,
			ContextKind: d.contextKind(s, m.ChannelID),
			Timestamp:   m.Timestamp,
		}
		if m.MessageReference != nil {
			ev.ReplyToID = m.MessageReference.MessageID
		}
		fn(ev)
	})
}

func (d *Discord) OnReaction(fn func(domain.Reaction)) func() {
	return d.s.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if d.cfg.GuildID != "" && r.GuildID != "" && r.GuildID != d.cfg.GuildID {
			return
		}
		reaction := domain.Reaction{
			MessageID: r.MessageID,
			ContextID: r.ChannelID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.Name,
		}
		if msg, err := s.State.Message(r.ChannelID, r.MessageID); err == nil && msg.Author != nil {
			reaction.MessageAuthorID = msg.Author.ID
			fn(reaction)
			return
		}
		// Cache miss: the REST lookup must not hold up the event stream.
		d.mu.Lock()
		ctx := d.fetchCtx
		if ctx == nil || ctx.Err() != nil {
			d.mu.Unlock()
			return
		}
		d.wg.Add(1)
		d.mu.Unlock()
		go func() {
			defer d.wg.Done()
			msg, err := s.ChannelMessage(r.ChannelID, r.MessageID, discordgo.WithContext(ctx))
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				d.logger.Debug("cannot fetch reacted message", "message_id", r.MessageID, "err", err)
			case msg.Author != nil:
				reaction.MessageAuthorID = msg.Author.ID
			}
			fn(reaction)
		}()
	})
}

func (d *Discord) contextKind(s *discordgo.Session, channelID string) domain.ContextKind {
	ch, err := s.State.Channel(channelID)
	if err != nil {
		if ch, err = s.Channel(channelID); err != nil {
			return domain.ContextOther
		}
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return domain.ContextText
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return domain.ContextDirect
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return domain.ContextThread
	}
	return domain.ContextOther
}

func (d *Discord) SendLoading(ctx context.Context, contextID, text string) (domain.Handle, error) {
	m, err := d.s.ChannelMessageSendEmbed(contextID, &discordgo.MessageEmbed{Description: text}, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Handle{}, fmt.Errorf("%w: discord send: %w", domain.ErrDelivery, err)
	}
	return domain.Handle{ContextID: contextID, MessageID: m.ID, Editable: true}, nil
}

func (d *Discord) Edit(ctx context.Context, h domain.Handle, msg domain.OutboundMessage) error {
	if !h.Editable {
		return domain.ErrNotEditable
	}
	edit := &discordgo.MessageEdit{ID: h.MessageID, Channel: h.ContextID}
	var rest []string
	if msg.Embed != nil {
		empty := ""
		edit.Content = &empty
		edit.Embeds = &[]*discordgo.MessageEmbed{{
			Title:       msg.Embed.Title,
			Description: fitMessage(msg.Embed.Description, 4096),
			Footer:      footer(msg.Embed.Footer),
		}}
	} else {
		chunks := splitMessage(msg.Content, discordMaxMsgLen)
		edit.Content = &chunks[0]
		edit.Embeds = &[]*discordgo.MessageEmbed{}
		rest = chunks[1:]
	}
	if _, err := d.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == 404 {
			return fmt.Errorf("%w: %w", domain.ErrDelivery, domain.ErrNotEditable)
		}
		return fmt.Errorf("%w: discord edit: %w", domain.ErrDelivery, err)
	}
	// Overflow follows the edited placeholder as plain messages.
	for _, chunk := range rest {
		if _, err := d.s.ChannelMessageSend(h.ContextID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("%w: discord send: %w", domain.ErrDelivery, err)
		}
	}
	return nil
}

func footer(text string) *discordgo.MessageEmbedFooter {
	if text == "" {
		return nil
	}
	return &discordgo.MessageEmbedFooter{Text: text}
}

func (d *Discord) registerCommands(ctx context.Context) {
	if len(d.cfg.Commands) == 0 {
		return
	}
	appID := d.s.State.User.ID
	var created []*discordgo.ApplicationCommand
	for _, c := range d.cfg.Commands {
		cmd, err := d.s.ApplicationCommandCreate(appID, d.cfg.GuildID, &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "args",
				Description: "Arguments",
			}},
		}, discordgo.WithContext(ctx))
		if err != nil {
			d.logger.Warn("failed to register command", "command", c.Name, "err", err)
			continue
		}
		created = append(created, cmd)
	}
	d.mu.Lock()
	d.commands = created
	d.mu.Unlock()
}

// ClearRegistrations deletes the commands registered by the last Open.
func (d *Discord) ClearRegistrations(ctx context.Context) error {
	d.mu.Lock()
	cmds := d.commands
	d.commands = nil
	appID := d.self.ID
	d.mu.Unlock()

	var errs []error
	for _, c := range cmds {
		if err := d.s.ApplicationCommandDelete(appID, d.cfg.GuildID, c.ID, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("delete command %s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Discord) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	cmd, ok := findCommand(d.cfg.Commands, data.Name)
	if !ok {
		return
	}
	var args string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			args = opt.StringValue()
		}
	}
	out := cmd.Run(context.Background(), args)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fitMessage(out, discordMaxMsgLen),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		d.logger.Warn("command response failed", "command", data.Name, "err", err)
	}
}
