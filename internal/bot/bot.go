// Package bot provides the Telegram admin console and the bot instance
// that winner notifications are sent through.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"treasure-hunt/internal/auth"
	"treasure-hunt/internal/config"
	"treasure-hunt/internal/service"
)

const (
	commandTimeout = 15 * time.Second
	pollTimeout    = 10 * time.Second
	// httpTimeout covers a long poll plus slack. It also bounds every
	// outgoing message, including winner notifications.
	httpTimeout = pollTimeout + 5*time.Second
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot     *tele.Bot
	cfg     *config.Config
	console *Console
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config    *config.Config
	TeleBot   *tele.Bot
	Games     *service.GameService
	Finalizer *service.FinalizerService
	Accounts  *service.AccountService
	Auth      *auth.Manager
}

// NewTeleBot creates the telebot instance. It is shared by the admin
// console and the winner notification dispatcher.
func NewTeleBot(cfg *config.TelegramConfig) (*tele.Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
		Client: &http.Client{Timeout: httpTimeout},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.TeleBot == nil {
		return nil, fmt.Errorf("telebot instance is required")
	}

	b := &Bot{
		bot:     deps.TeleBot,
		cfg:     deps.Config,
		console: NewConsole(deps.Games, deps.Finalizer, deps.Accounts, deps.Auth),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(PrivateChatMiddleware())
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/link", b.handleLink)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/games", b.handleGames)
	adminGroup.Handle("/launch", b.transitionHandler(ActionLaunch))
	adminGroup.Handle("/pause", b.transitionHandler(ActionPause))
	adminGroup.Handle("/resume", b.transitionHandler(ActionResume))
	adminGroup.Handle("/finalize", b.handleFinalize)
}

func (b *Bot) handleStart(c tele.Context) error {
	return c.Reply("Send /link <token> to get winner notifications in this chat.")
}

func (b *Bot) handleLink(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	// The message carries a bearer token; drop it from the chat.
	if c.Message() != nil {
		_ = c.Delete()
	}
	return c.Send(b.console.Link(ctx, c.Chat().ID, c.Args()))
}

func (b *Bot) handleGames(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return c.Reply(b.console.Games(ctx, c.Args()))
}

func (b *Bot) transitionHandler(action Action) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return c.Reply(b.console.Transition(ctx, action, c.Args()))
	}
}

func (b *Bot) handleFinalize(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return c.Reply(b.console.Finalize(ctx, c.Args()))
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
