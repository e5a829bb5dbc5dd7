package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/models"
	"github.com/xaenox/guildscribe/internal/search"
	"github.com/xaenox/guildscribe/internal/storage"
)

const (
	maxMessageLen = 4096
	latestThreads = 5
	topTags       = 15
	searchLimit   = 5
)

// Sender is the part of the Telegram API the bot writes to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot answers digest commands about one scraped server.
type Bot struct {
	api      *tgbotapi.BotAPI
	sender   Sender
	storage  storage.Storage
	index    *search.Index
	serverID string
	logger   *zap.Logger
}

// New connects to Telegram. index may be nil, which disables /search.
func New(token string, store storage.Storage, serverID string, index *search.Index, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	b := newBot(api, store, serverID, index, logger)
	b.api = api
	return b, nil
}

func newBot(sender Sender, store storage.Storage, serverID string, index *search.Index, logger *zap.Logger) *Bot {
	return &Bot{
		sender:   sender,
		storage:  store,
		index:    index,
		serverID: serverID,
		logger:   logger,
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot is not connected")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

// PublishDigest posts the server digest to chatID.
func (b *Bot) PublishDigest(ctx context.Context, chatID int64) error {
	text, err := b.digest(ctx)
	if err != nil {
		return err
	}
	return b.sendMarkdown(chatID, text)
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if !message.IsCommand() {
		if q := strings.TrimSpace(message.Text); q != "" {
			b.handleSearch(ctx, message.Chat.ID, q)
		}
		return
	}
	b.handleCommand(ctx, message)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	switch message.Command() {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "digest":
		b.handleDigest(ctx, chatID)
	case "threads":
		b.handleThreads(ctx, chatID)
	case "tags":
		b.handleTags(ctx, chatID)
	case "search":
		q := strings.TrimSpace(message.CommandArguments())
		if q == "" {
			b.sendMessage(chatID, "Usage: /search <query>")
			return
		}
		b.handleSearch(ctx, chatID, q)
	default:
		b.sendMessage(chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(chatID int64) {
	welcome := `Welcome to guildscribe! 📚
I summarise the conversations of your community server.

Use /digest for the server overview or /help to see all commands.`

	b.sendMessage(chatID, welcome)
}

func (b *Bot) handleHelp(chatID int64) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/digest - Server digest
/threads - Latest thread summaries
/tags - Most frequent tags
/search <query> - Search the analyses

Any other text is treated as a search query.`

	b.sendMessage(chatID, help)
}

func (b *Bot) handleDigest(ctx context.Context, chatID int64) {
	text, err := b.digest(ctx)
	if err != nil {
		b.logger.Error("Failed to build digest", zap.Error(err), zap.Int64("chat_id", chatID))
		b.sendErrorMessage(chatID, "Sorry, the digest is not available yet.")
		return
	}
	b.sendMarkdownOrLog(chatID, text)
}

func (b *Bot) digest(ctx context.Context) (string, error) {
	a, err := b.storage.GetAnalysis(ctx, models.Key{Kind: models.KindServer, ID: b.serverID})
	if err != nil {
		return "", fmt.Errorf("server analysis: %w", err)
	}
	channels, err := b.serverAnalyses(ctx, models.KindChannel)
	if err != nil {
		return "", fmt.Errorf("channel analyses: %w", err)
	}
	return formatDigest(a, channels), nil
}

// serverAnalyses lists the analyses of kind that belong to the bot's server.
func (b *Bot) serverAnalyses(ctx context.Context, kind models.Kind) ([]*models.AiAnalysis, error) {
	all, err := b.storage.ListAnalyses(ctx, kind)
	if err != nil {
		return nil, err
	}
	own := all[:0]
	for _, a := range all {
		if models.IsChildRoute(b.serverID, a.Route) {
			own = append(own, a)
		}
	}
	return own, nil
}

func (b *Bot) handleThreads(ctx context.Context, chatID int64) {
	threads, err := b.serverAnalyses(ctx, models.KindThread)
	if err != nil {
		b.logger.Error("Failed to list thread analyses", zap.Error(err), zap.Int64("chat_id", chatID))
		b.sendErrorMessage(chatID, "Sorry, I couldn't load the threads.")
		return
	}
	if len(threads) == 0 {
		b.sendMessage(chatID, "No threads have been analysed yet.")
		return
	}
	b.sendMarkdownOrLog(chatID, formatThreads(threads, latestThreads))
}

func (b *Bot) handleTags(ctx context.Context, chatID int64) {
	threads, err := b.serverAnalyses(ctx, models.KindThread)
	if err != nil {
		b.logger.Error("Failed to list thread analyses", zap.Error(err), zap.Int64("chat_id", chatID))
		b.sendErrorMessage(chatID, "Sorry, failed to retrieve the tags. Please try again later.")
		return
	}
	counts := models.CountTags(threads, models.KindThread)
	if len(counts) == 0 {
		b.sendMessage(chatID, "There are no tags yet.")
		return
	}
	b.sendMarkdownOrLog(chatID, formatTags(counts, topTags))
}

func (b *Bot) handleSearch(ctx context.Context, chatID int64, query string) {
	if b.index == nil {
		b.sendMessage(chatID, "Search is not available.")
		return
	}
	results, err := b.index.Search(query, searchLimit)
	if err != nil {
		b.logger.Warn("Search failed", zap.String("query", query), zap.Error(err))
		b.sendErrorMessage(chatID, "Sorry, I couldn't understand that query.")
		return
	}
	if len(results) == 0 {
		b.sendMessage(chatID, fmt.Sprintf("Nothing found for %q.", query))
		return
	}
	b.sendMarkdownOrLog(chatID, formatResults(query, results))
}

func formatDigest(server *models.AiAnalysis, channels []*models.AiAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s*\n", escapeMarkdown(server.Title))
	if server.ShortSummary != "" {
		fmt.Fprintf(&sb, "\n%s\n", escapeMarkdown(server.ShortSummary))
	}
	if len(server.Highlights) > 0 {
		sb.WriteString("\n")
		for _, h := range server.Highlights {
			fmt.Fprintf(&sb, "• %s\n", escapeMarkdown(h))
		}
	}
	if len(channels) > 0 {
		sb.WriteString("\n*Channels:*\n")
		for _, c := range channels {
			fmt.Fprintf(&sb, "*%s*: %s\n", escapeMarkdown(c.Title), escapeMarkdown(c.ExtremelyShortSummary))
		}
	}
	if tags := formatTagList(server.Tags); tags != "" {
		fmt.Fprintf(&sb, "\n%s\n", tags)
	}
	return sb.String()
}

// formatThreads lists the most recently analysed threads first.
func formatThreads(threads []*models.AiAnalysis, limit int) string {
	sorted := append([]*models.AiAnalysis(nil), threads...)
	sortByCreated(sorted)
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	var sb strings.Builder
	sb.WriteString("*Latest threads:*\n\n")
	for _, a := range sorted {
		fmt.Fprintf(&sb, "*%s*\n", escapeMarkdown(a.Title))
		fmt.Fprintf(&sb, "_%s_\n", escapeMarkdown(a.ShortSummary))
		if tags := formatTagList(a.Tags); tags != "" {
			fmt.Fprintf(&sb, "Tags: %s\n", tags)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatTags(counts []models.TagCount, limit int) string {
	if len(counts) > limit {
		counts = counts[:limit]
	}
	var sb strings.Builder
	sb.WriteString("*Top tags:*\n")
	for _, c := range counts {
		fmt.Fprintf(&sb, "%s %s\n", escapeMarkdown(c.Tag), escapeMarkdown(fmt.Sprintf("(%d)", c.Count)))
	}
	return sb.String()
}

func formatResults(query string, results []*search.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Results for* _%s_:\n\n", escapeMarkdown(query))
	for _, r := range results {
		fmt.Fprintf(&sb, "*%s* %s\n", escapeMarkdown(r.Title), escapeMarkdown("["+r.Kind+"]"))
		if r.Summary != "" {
			fmt.Fprintf(&sb, "%s\n", escapeMarkdown(r.Summary))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatTagList(tags []string) string {
	norm := models.NormalizeTags(tags)
	for i, t := range norm {
		norm[i] = escapeMarkdown(t)
	}
	return strings.Join(norm, " ")
}

func sortByCreated(analyses []*models.AiAnalysis) {
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].CreatedAt.After(analyses[j].CreatedAt)
	})
}

// escapeMarkdown escapes the characters reserved by MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

// truncate cuts text to Telegram's message size on a line boundary when possible.
func truncate(text string) string {
	if len(text) <= maxMessageLen {
		return text
	}
	end := maxMessageLen - len("\n…")
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if i := strings.LastIndex(cut, "\n"); i > 0 {
		cut = cut[:i]
	}
	// an odd run of trailing backslashes would escape the ellipsis line break
	n := len(cut) - len(strings.TrimRight(cut, "\\"))
	if n%2 == 1 {
		cut = cut[:len(cut)-1]
	}
	return cut + "\n…"
}

func (b *Bot) sendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, truncate(text))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.sender.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (b *Bot) sendMarkdownOrLog(chatID int64, text string) {
	if err := b.sendMarkdown(chatID, text); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
