// Package bot is the chat ingress: a long-poll loop that turns commands and
// attachments into catalog operations. Uploads arriving here are already
// stored by the platform, so the bot only records references.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abrino/abrinostore/catalog"
	"github.com/abrino/abrinostore/ingest"
	"github.com/abrino/abrinostore/models"
	"github.com/abrino/abrinostore/telegram"
)

// Poller is the long-poll surface of the platform client.
type Poller interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
}

// Replier sends outbound chat messages. Replies go through the gateway so
// they spend the same quota as blob traffic.
type Replier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

const (
	pollTimeoutSeconds = 25
	pollErrorPause     = 3 * time.Second
	listPageSize       = 10
	recentCount        = 10
)

// Bot drives the chat channel.
type Bot struct {
	poller  Poller
	replier Replier
	coord   *ingest.Coordinator
	catalog *catalog.Catalog
	log     *zap.SugaredLogger
	adminID int64

	pause func(ctx context.Context, d time.Duration)
}

// New builds the bot. adminID, when non-zero, marks that chat identity's
// account as superuser on first contact.
func New(poller Poller, replier Replier, coord *ingest.Coordinator, cat *catalog.Catalog, adminID int64, log *zap.SugaredLogger) *Bot {
	return &Bot{
		poller:  poller,
		replier: replier,
		coord:   coord,
		catalog: cat,
		log:     log,
		adminID: adminID,
		pause: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Run long-polls until the context is canceled. Poll failures pause and
// retry; they never kill the loop.
func (b *Bot) Run(ctx context.Context) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := b.poller.GetUpdates(ctx, offset, pollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Warnf("poll failed: %v", err)
			b.pause(ctx, pollErrorPause)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message != nil {
				b.handleMessage(ctx, u.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil {
		return
	}
	if hasAttachment(msg) {
		b.handleAttachment(ctx, msg)
		return
	}
	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	b.reply(ctx, msg.Chat.ID, "Send me a file to store it, or /help for commands.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, text string) {
	cmd, arg := splitCommand(text)

	if cmd == "/start" {
		b.cmdStart(ctx, msg)
		return
	}

	user, err := b.catalog.UserByTelegramID(ctx, msg.From.ID)
	if err != nil {
		b.reply(ctx, msg.Chat.ID, "You are not registered yet. Send /start first.")
		return
	}

	switch cmd {
	case "/help":
		b.reply(ctx, msg.Chat.ID, helpText)
	case "/files":
		b.cmdFiles(ctx, msg.Chat.ID, user, arg)
	case "/categories":
		b.cmdCategories(ctx, msg.Chat.ID, user)
	case "/search":
		b.cmdSearch(ctx, msg.Chat.ID, user, arg)
	case "/recent":
		b.cmdRecent(ctx, msg.Chat.ID, user)
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command. Send /help for the list.")
	}
}

const helpText = `Commands:
/files [category] - list your files
/categories - categories you have files in
/search <term> - search your files by name
/recent - your latest uploads
Send any file to store it.`

// cmdStart registers the chat identity on first contact and greets.
func (b *Bot) cmdStart(ctx context.Context, msg *telegram.Message) {
	_, created, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.log.Errorf("register chat user %d: %v", msg.From.ID, err)
		b.reply(ctx, msg.Chat.ID, "Registration failed, try again later.")
		return
	}
	greeting := "Welcome back! Send me a file to store it, or /help for commands."
	if created {
		greeting = "Welcome! Your storage account is ready. Send me a file to store it."
	}
	b.reply(ctx, msg.Chat.ID, greeting)
}

// ensureUser looks up the account for a chat identity, creating it with a
// synthetic email on first contact.
func (b *Bot) ensureUser(ctx context.Context, from *telegram.ChatUser) (*models.User, bool, error) {
	user, err := b.catalog.UserByTelegramID(ctx, from.ID)
	if err == nil {
		return user, false, nil
	}
	if err != catalog.ErrNotFound {
		return nil, false, err
	}
	tgID := from.ID
	user = &models.User{
		Email:       fmt.Sprintf("tg-%d@telegram.local", tgID),
		IsActive:    true,
		IsSuperuser: b.adminID != 0 && tgID == b.adminID,
		TelegramID:  &tgID,
	}
	if err := b.catalog.CreateUser(ctx, user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (b *Bot) cmdFiles(ctx context.Context, chatID int64, user *models.User, category string) {
	if category != "" && !models.ValidCategory(category) {
		b.reply(ctx, chatID, fmt.Sprintf("Unknown category %q. Valid: %s", category, strings.Join(models.Categories, ", ")))
		return
	}
	files, err := b.catalog.ListFiles(ctx, user.ID, category, 0, listPageSize)
	if err != nil {
		b.log.Errorf("list files for user %d: %v", user.ID, err)
		b.reply(ctx, chatID, "Could not list files, try again later.")
		return
	}
	if len(files) == 0 {
		b.reply(ctx, chatID, "No files yet. Send me one to get started.")
		return
	}
	b.reply(ctx, chatID, formatFiles(files))
}

func (b *Bot) cmdCategories(ctx context.Context, chatID int64, user *models.User) {
	cats, err := b.catalog.Categories(ctx, user.ID)
	if err != nil {
		b.log.Errorf("list categories for user %d: %v", user.ID, err)
		b.reply(ctx, chatID, "Could not list categories, try again later.")
		return
	}
	if len(cats) == 0 {
		b.reply(ctx, chatID, "No files yet. Send me one to get started.")
		return
	}
	b.reply(ctx, chatID, "Your categories: "+strings.Join(cats, ", "))
}

func (b *Bot) cmdSearch(ctx context.Context, chatID int64, user *models.User, term string) {
	if strings.TrimSpace(term) == "" {
		b.reply(ctx, chatID, "Usage: /search <term>")
		return
	}
	files, err := b.catalog.Search(ctx, user.ID, term, listPageSize)
	if err != nil {
		b.log.Errorf("search for user %d: %v", user.ID, err)
		b.reply(ctx, chatID, "Search failed, try again later.")
		return
	}
	if len(files) == 0 {
		b.reply(ctx, chatID, fmt.Sprintf("Nothing matched %q.", term))
		return
	}
	b.reply(ctx, chatID, formatFiles(files))
}

func (b *Bot) cmdRecent(ctx context.Context, chatID int64, user *models.User) {
	files, err := b.catalog.Recent(ctx, user.ID, recentCount)
	if err != nil {
		b.log.Errorf("recent for user %d: %v", user.ID, err)
		b.reply(ctx, chatID, "Could not list recent files, try again later.")
		return
	}
	if len(files) == 0 {
		b.reply(ctx, chatID, "No files yet. Send me one to get started.")
		return
	}
	b.reply(ctx, chatID, formatFiles(files))
}

// handleAttachment records whichever attachment kind the message carries.
func (b *Bot) handleAttachment(ctx context.Context, msg *telegram.Message) {
	user, _, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.log.Errorf("register chat user %d: %v", msg.From.ID, err)
		b.reply(ctx, msg.Chat.ID, "Could not store that, try again later.")
		return
	}

	name, ref, size, mime := attachmentInfo(msg)
	if ref == "" {
		return
	}

	f, err := b.coord.Record(ctx, user.ID, name, ref, size, mime)
	if err != nil {
		if err == ingest.ErrRefOwnedElsewhere {
			b.reply(ctx, msg.Chat.ID, "That file is already stored by another account.")
			return
		}
		b.log.Errorf("record attachment for user %d: %v", user.ID, err)
		b.reply(ctx, msg.Chat.ID, "Could not store that, try again later.")
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf("Stored %s (%s, %s).", f.Name, f.Category, formatSize(f.Size)))
}

func hasAttachment(msg *telegram.Message) bool {
	return msg.Document != nil || len(msg.Photo) > 0 || msg.Audio != nil || msg.Video != nil || msg.Voice != nil
}

// attachmentInfo extracts the reference and metadata for each attachment
// kind. Photos arrive as a resolution ladder; the largest rendition is the
// stored one. Kinds without a file name get a synthesized one.
func attachmentInfo(msg *telegram.Message) (name, ref string, size int64, mime string) {
	switch {
	case msg.Document != nil:
		d := msg.Document
		name = d.FileName
		if name == "" {
			name = fmt.Sprintf("document_%d", msg.MessageID)
		}
		return name, d.FileID, d.FileSize, d.MimeType
	case len(msg.Photo) > 0:
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return fmt.Sprintf("photo_%d.jpg", msg.MessageID), best.FileID, best.FileSize, "image/jpeg"
	case msg.Audio != nil:
		a := msg.Audio
		name = a.FileName
		if name == "" {
			name = fmt.Sprintf("audio_%d", msg.MessageID)
		}
		return name, a.FileID, a.FileSize, a.MimeType
	case msg.Video != nil:
		v := msg.Video
		name = v.FileName
		if name == "" {
			name = fmt.Sprintf("video_%d.mp4", msg.MessageID)
		}
		return name, v.FileID, v.FileSize, v.MimeType
	case msg.Voice != nil:
		return fmt.Sprintf("voice_%d.ogg", msg.MessageID), msg.Voice.FileID, msg.Voice.FileSize, msg.Voice.MimeType
	}
	return "", "", 0, ""
}

func formatFiles(files []models.File) string {
	var sb strings.Builder
	for i, f := range files {
		fmt.Fprintf(&sb, "%d. %s (%s, %s)\n", i+1, f.Name, f.Category, formatSize(f.Size))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func splitCommand(text string) (cmd, arg string) {
	parts := strings.SplitN(text, " ", 2)
	cmd = strings.ToLower(parts[0])
	// Commands may arrive as /files@botname in group chats.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.replier.SendMessage(ctx, chatID, text); err != nil {
		b.log.Warnf("reply to chat %d failed: %v", chatID, err)
	}
}
