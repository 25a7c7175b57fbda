package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Gopher0727/FeaturedFeed/internal/handler"
	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/utils"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// Intents the bot identifies with. Message content is a privileged intent.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

// EventSink is implemented by handler.EventHandler.
type EventSink interface {
	HandleMessage(ctx context.Context, ev model.MessageEvent) error
	HandleThread(ctx context.Context, kind string, ev model.ThreadEvent) error
}

type Options struct {
	// GuildID restricts events to one guild when set.
	GuildID string
	// NotifyChannelID receives approval requests.
	NotifyChannelID string
	NotifyPerSecond float64
	NotifyBurst     int
}

// Gateway connects the bot to Discord. It feeds gateway events through the
// serial dispatcher and implements the outbound side the services need:
// service.Notifier, service.ChannelDirectory and handler.Responder.
type Gateway struct {
	session    *discordgo.Session
	opts       Options
	dispatcher *utils.WorkerPool
	limiter    *rate.Limiter
	log        *logger.Logger

	mu       sync.Mutex
	sink     EventSink
	ctx      context.Context
	removers []func()
}

// New creates a session for token without connecting.
func New(token string, opts Options, dispatcher *utils.WorkerPool, log *logger.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = Intents
	return newGateway(session, opts, dispatcher, log), nil
}

func newGateway(session *discordgo.Session, opts Options, dispatcher *utils.WorkerPool, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.NotifyPerSecond <= 0 {
		opts.NotifyPerSecond = 1
	}
	if opts.NotifyBurst <= 0 {
		opts.NotifyBurst = 1
	}
	return &Gateway{
		session:    session,
		opts:       opts,
		dispatcher: dispatcher,
		limiter:    rate.NewLimiter(rate.Limit(opts.NotifyPerSecond), opts.NotifyBurst),
		log:        log.Named("gateway"),
		ctx:        context.Background(),
	}
}

// Bind sets the receiver of gateway events. It must be called before Open.
func (g *Gateway) Bind(sink EventSink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sink = sink
}

// Open registers the event handlers and connects. Dispatched events run
// with ctx, so cancelling it drops events still queued.
func (g *Gateway) Open(ctx context.Context) error {
	g.mu.Lock()
	if g.sink == nil {
		g.mu.Unlock()
		return errors.New("gateway: no event sink bound")
	}
	g.ctx = ctx
	g.removers = append(g.removers,
		g.session.AddHandler(g.onReady),
		g.session.AddHandler(g.onMessageCreate),
		g.session.AddHandler(g.onThreadCreate),
		g.session.AddHandler(g.onThreadUpdate),
	)
	g.mu.Unlock()

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w: %w", model.ErrExternalUnavailable, err)
	}
	return nil
}

// Close disconnects and unregisters the handlers.
func (g *Gateway) Close() error {
	g.mu.Lock()
	for _, remove := range g.removers {
		remove()
	}
	g.removers = nil
	g.mu.Unlock()
	return g.session.Close()
}

func (g *Gateway) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	g.log.Info("connected to discord",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)),
	)
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || !g.watched(m.GuildID) {
		return
	}
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	ev := MessageEvent(m.Message, selfID)
	if ev.FromSelf {
		return
	}
	g.submit(handler.KindMessageCreated, ev.ID, func(ctx context.Context) error {
		return g.sink.HandleMessage(ctx, ev)
	})
}

func (g *Gateway) onThreadCreate(_ *discordgo.Session, t *discordgo.ThreadCreate) {
	g.onThread(handler.KindThreadCreated, t.Channel)
}

func (g *Gateway) onThreadUpdate(_ *discordgo.Session, t *discordgo.ThreadUpdate) {
	g.onThread(handler.KindThreadUpdated, t.Channel)
}

func (g *Gateway) onThread(kind string, th *discordgo.Channel) {
	if th == nil || !IsThread(th) || !g.watched(th.GuildID) {
		return
	}
	// 归档、锁定等更新不重新收录
	if th.ThreadMetadata != nil && th.ThreadMetadata.Archived {
		return
	}
	g.submit(kind, th.ID, func(ctx context.Context) error {
		return g.sink.HandleThread(ctx, kind, g.threadEvent(ctx, th))
	})
}

// threadEvent looks up the forum and the starter post. The starter post of a
// forum thread shares the thread's id.
func (g *Gateway) threadEvent(ctx context.Context, th *discordgo.Channel) model.ThreadEvent {
	parent, err := g.channel(ctx, th.ParentID)
	if err != nil {
		g.log.DebugContext(ctx, "forum lookup failed", zap.String("parent_id", th.ParentID), zap.Error(err))
	}
	opening, err := g.session.ChannelMessage(th.ID, th.ID, discordgo.WithContext(ctx))
	if err != nil {
		g.log.DebugContext(ctx, "starter post unavailable", zap.String("thread_id", th.ID), zap.Error(err))
		opening = nil
	}
	return ThreadEvent(th, parent, opening)
}

func (g *Gateway) watched(guildID string) bool {
	if guildID == "" {
		return false
	}
	return g.opts.GuildID == "" || guildID == g.opts.GuildID
}

func (g *Gateway) submit(kind, sourceID string, job utils.Job) {
	g.mu.Lock()
	ctx := g.ctx
	g.mu.Unlock()
	if err := g.dispatcher.Submit(ctx, job); err != nil {
		g.log.Warn("event dropped",
			zap.String("event", kind),
			zap.String("source_id", sourceID),
			zap.Error(err),
		)
	}
}
