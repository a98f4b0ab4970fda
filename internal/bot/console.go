package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/auth"
	"treasure-hunt/internal/model"
	"treasure-hunt/internal/service"
)

// Action is a lifecycle command an admin can run on a game.
type Action string

const (
	ActionLaunch Action = "launch"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

// Console turns admin commands into service calls and renders the replies.
type Console struct {
	games     *service.GameService
	finalizer *service.FinalizerService
	accounts  *service.AccountService
	auth      *auth.Manager
}

// NewConsole creates a new Console.
func NewConsole(games *service.GameService, finalizer *service.FinalizerService, accounts *service.AccountService, authManager *auth.Manager) *Console {
	return &Console{games: games, finalizer: finalizer, accounts: accounts, auth: authManager}
}

// Games lists games, optionally filtered by the status in args[0].
func (c *Console) Games(ctx context.Context, args []string) string {
	var status model.GameStatus
	if len(args) > 0 {
		status = model.GameStatus(strings.ToLower(args[0]))
	}
	games, err := c.games.List(ctx, status)
	if err != nil {
		return replyError(err)
	}
	if len(games) == 0 {
		return "No games."
	}

	var sb strings.Builder
	for _, g := range games {
		fmt.Fprintf(&sb, "%s | %s | %s | %s | %d/%d winners | prize %s\n",
			g.ID, g.Name, g.Kind(), g.Status, len(g.Winners), g.WinnerSlots, g.PrizeAmount.String())
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Transition runs a lifecycle action on the game id in args[0].
func (c *Console) Transition(ctx context.Context, action Action, args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Usage: /%s <game id>", action)
	}
	var (
		g   *model.Game
		err error
	)
	switch action {
	case ActionLaunch:
		g, err = c.games.Launch(ctx, args[0])
	case ActionPause:
		g, err = c.games.Pause(ctx, args[0])
	case ActionResume:
		g, err = c.games.Resume(ctx, args[0])
	default:
		return fmt.Sprintf("Unknown action %q", action)
	}
	if err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("%s is now %s", g.Name, g.Status)
}

// Finalize settles the virtual game id in args[0].
func (c *Console) Finalize(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /finalize <game id>"
	}
	report, err := c.finalizer.Finalize(ctx, args[0])
	if err != nil {
		return replyError(err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Finalized %s: %d winner(s)", report.GameID, len(report.Winners))
	for _, w := range report.Winners {
		fmt.Fprintf(&sb, "\n#%d %s +%s", w.Position, w.UserID, w.Payout.String())
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(&sb, "\nSkipped: %d", len(report.Skipped))
	}
	if len(report.Failed) > 0 {
		fmt.Fprintf(&sb, "\nFailed: %d", len(report.Failed))
	}
	if report.ShortFall > 0 {
		fmt.Fprintf(&sb, "\nUnfilled slots: %d", report.ShortFall)
	}
	return sb.String()
}

// Link binds the user behind the token in args[0] to chatID for winner
// notifications.
func (c *Console) Link(ctx context.Context, chatID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /link <token>"
	}
	claims, err := c.auth.Parse(args[0])
	if err != nil {
		return "That token is not valid."
	}
	if err := c.accounts.RegisterPushRecipient(ctx, claims.UserID, strconv.FormatInt(chatID, 10)); err != nil {
		return replyError(err)
	}
	return fmt.Sprintf("Linked. Winner notifications for %s will arrive here.", claims.Username)
}

func replyError(err error) string {
	switch {
	case errors.Is(err, service.ErrGameNotFound):
		return "Game not found."
	case errors.Is(err, service.ErrFinalizeInProgress):
		return "Another finalize is running for that game, try again shortly."
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadyFinalized),
		errors.Is(err, service.ErrWrongGameKind),
		errors.Is(err, service.ErrGameNotLive),
		errors.Is(err, service.ErrInvalidGame):
		return "Rejected: " + err.Error()
	default:
		log.Error().Err(err).Msg("Admin command failed")
		return "Something went wrong, try again later."
	}
}
