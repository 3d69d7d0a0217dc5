package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/makt28/mandown/internal/notify"
	"github.com/makt28/mandown/internal/store"
	"github.com/makt28/mandown/internal/tracker"
)

// Tracker is the tracking service the commands drive.
type Tracker interface {
	Track(ctx context.Context, input string, owner int64) ([]tracker.Result, error)
	Untrack(ctx context.Context, input string, owner int64) (string, int, error)
	List(ctx context.Context, owner int64) ([]store.Site, error)
	Clear(ctx context.Context, owner int64) (int, error)
}

const helpText = `I can understand these commands:

/track &lt;url&gt; - add a site to your tracked list
/untrack &lt;url&gt; - remove a site from your tracked list
/list - show your tracked sites
/clear - remove all of your tracked sites
/about - about this bot
/help - show this message`

const aboutText = `<b>ManDown</b> watches websites and tells you when their HTTP status changes.
Only the sites you track and your chat ID are stored.`

// Handler executes chat commands. The chat ID is the owner identity.
type Handler struct {
	tracker   Tracker
	messenger notify.Messenger
	logger    *slog.Logger
}

// NewHandler creates a Handler replying through messenger.
func NewHandler(t Tracker, messenger notify.Messenger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tracker: t, messenger: messenger, logger: logger.With("component", "bot")}
}

// HandleUpdate processes one update. Non-command messages are ignored.
func (h *Handler) HandleUpdate(ctx context.Context, u Update) error {
	if u.Message == nil {
		return nil
	}
	cmd, ok := ParseCommand(u.Message.Text)
	if !ok {
		return nil
	}
	chatID := u.Message.Chat.ID
	h.logger.Debug("command received", "command", cmd.Name, "chat_id", chatID, "update_id", u.UpdateID)

	switch cmd.Name {
	case "start", "help":
		return h.reply(ctx, chatID, helpText)
	case "about":
		return h.reply(ctx, chatID, aboutText)
	case "track":
		return h.track(ctx, chatID, cmd.Arg)
	case "untrack":
		return h.untrack(ctx, chatID, cmd.Arg)
	case "list":
		return h.list(ctx, chatID)
	case "clear":
		return h.clear(ctx, chatID)
	default:
		return h.reply(ctx, chatID, "Unknown command.\n\n"+helpText)
	}
}

func (h *Handler) track(ctx context.Context, chatID int64, arg string) error {
	if arg == "" {
		return h.reply(ctx, chatID, "Usage: /track &lt;url&gt;")
	}
	results, err := h.tracker.Track(ctx, arg, chatID)
	if errors.Is(err, tracker.ErrInvalidURL) {
		return h.reply(ctx, chatID, "Invalid URL!")
	}

	var tracked []string
	for _, r := range results {
		if sendErr := h.reply(ctx, chatID, notify.StatusMessage(r.URL, r.Status)); sendErr != nil {
			return sendErr
		}
		if r.Tracked {
			tracked = append(tracked, html.EscapeString(r.URL))
		}
	}
	if err != nil {
		h.logger.Error("track failed", "chat_id", chatID, "error", err)
		return h.reply(ctx, chatID, "Something went wrong while saving the site. Please try again later.")
	}

	if len(tracked) == 0 {
		return h.reply(ctx, chatID, "Nothing was tracked: only sites answering 200 can be tracked.")
	}
	return h.reply(ctx, chatID, "Now tracking:\n"+strings.Join(tracked, "\n"))
}

func (h *Handler) untrack(ctx context.Context, chatID int64, arg string) error {
	if arg == "" {
		return h.reply(ctx, chatID, "Usage: /untrack &lt;url&gt;")
	}
	host, removed, err := h.tracker.Untrack(ctx, arg, chatID)
	switch {
	case errors.Is(err, tracker.ErrInvalidURL):
		return h.reply(ctx, chatID, "Invalid URL!")
	case err != nil:
		h.logger.Error("untrack failed", "chat_id", chatID, "error", err)
		return h.reply(ctx, chatID, "Something went wrong. Please try again later.")
	case removed == 0:
		return h.reply(ctx, chatID, fmt.Sprintf("You are not tracking %s.", html.EscapeString(host)))
	default:
		return h.reply(ctx, chatID, fmt.Sprintf("Stopped tracking %s.", html.EscapeString(host)))
	}
}

func (h *Handler) list(ctx context.Context, chatID int64) error {
	sites, err := h.tracker.List(ctx, chatID)
	if err != nil {
		h.logger.Error("list failed", "chat_id", chatID, "error", err)
		return h.reply(ctx, chatID, "Something went wrong. Please try again later.")
	}
	return h.reply(ctx, chatID, FormatSiteList(sites))
}

func (h *Handler) clear(ctx context.Context, chatID int64) error {
	removed, err := h.tracker.Clear(ctx, chatID)
	if err != nil {
		h.logger.Error("clear failed", "chat_id", chatID, "error", err)
		return h.reply(ctx, chatID, "Something went wrong. Please try again later.")
	}
	if removed == 0 {
		return h.reply(ctx, chatID, "You aren't tracking any sites yet.")
	}
	return h.reply(ctx, chatID, fmt.Sprintf("Removed %d tracked site(s).", removed))
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) error {
	if err := h.messenger.Send(ctx, chatID, text); err != nil {
		return fmt.Errorf("reply to chat %d: %w", chatID, err)
	}
	return nil
}

// FormatSiteList renders sites as a fixed-width HTML table.
func FormatSiteList(sites []store.Site) string {
	if len(sites) == 0 {
		return "You aren't tracking any sites yet."
	}
	var b strings.Builder
	b.WriteString("Here are your tracked sites:\n\n<pre>")
	fmt.Fprintf(&b, "%-40s | %-6s\n", "URL", "Status")
	b.WriteString(strings.Repeat("-", 50))
	b.WriteByte('\n')
	for _, s := range sites {
		fmt.Fprintf(&b, "%-40s | %-6d\n", html.EscapeString(s.URL), s.Status)
	}
	b.WriteString("</pre>")
	return b.String()
}
