// Package telegram is the chat front-end. It hands questions to the
// pipeline and renders answers with their source attributions; document
// uploads from admins are ingested into the index.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/hunterwarburton/kbot/internal/core"
	"github.com/hunterwarburton/kbot/internal/logger"
)

const maxDocumentBytes = 5 << 20

const helpText = `I answer questions about the company document library.

Just ask me something, for example:
  what is the wellness policy
  how do I size a steel portal frame

Commands:
/clear - forget our conversation so far
/sources <folder> - list documents in a folder
/help - show this message

Admins can upload a plain-text document to add it to the library.`

// AnswerService is the query side of the pipeline as the bot consumes it.
type AnswerService interface {
	Answer(ctx context.Context, question, sessionID string) (core.RAGAnswer, error)
	ListDocuments(ctx context.Context, folder string, limit int) ([]core.SourceRef, error)
	ClearSession(sessionID string)
}

// IngestService is the document side of the pipeline as the bot consumes it.
type IngestService interface {
	Ingest(ctx context.Context, text string, metadata map[string]interface{}) (int, error)
}

// PolicyService gates who may talk to the bot and who may manage documents.
type PolicyService interface {
	IsAllowed(userID int64) bool
	IsAdmin(userID int64) bool
}

// Bot wires Telegram updates to the RAG pipeline.
type Bot struct {
	bot      *bot.Bot
	answers  AnswerService
	ingester IngestService
	policy   PolicyService
	http     *http.Client
}

// NewBot creates the bot and registers its handlers.
func NewBot(token string, answers AnswerService, ingester IngestService, policy PolicyService) (*Bot, error) {
	b := &Bot{
		answers:  answers,
		ingester: ingester,
		policy:   policy,
		http:     &http.Client{Timeout: 60 * time.Second},
	}

	botAPI, err := bot.New(token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	b.bot = botAPI
	return b, nil
}

// Start begins processing updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	logger.Info("Telegram bot started")
	b.bot.Start(ctx)
}

func (b *Bot) handleUpdate(ctx context.Context, botAPI *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !b.policy.IsAllowed(userID) {
		logger.Warn("Ignoring message from unauthorized user %d", userID)
		return
	}

	switch {
	case msg.Document != nil:
		b.handleDocument(ctx, msg)
	case strings.HasPrefix(msg.Text, "/start"), strings.HasPrefix(msg.Text, "/help"):
		b.reply(ctx, chatID, helpText)
	case strings.HasPrefix(msg.Text, "/clear"):
		b.answers.ClearSession(sessionID(chatID))
		b.reply(ctx, chatID, "Conversation cleared. Ask me something new.")
	case strings.HasPrefix(msg.Text, "/sources"):
		b.handleSources(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(msg.Text, "/sources")))
	case strings.TrimSpace(msg.Text) != "":
		b.handleQuestion(ctx, msg)
	}
}

func (b *Bot) handleQuestion(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID

	b.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})

	ans, err := b.answers.Answer(ctx, msg.Text, sessionID(chatID))
	if err != nil {
		logger.Error("Answer call failed for chat %d: %v", chatID, err)
		return
	}
	b.reply(ctx, chatID, renderAnswer(ans))
}

func (b *Bot) handleSources(ctx context.Context, chatID int64, folder string) {
	if folder == "" {
		b.reply(ctx, chatID, "Usage: /sources <folder>, for example /sources Health & Safety")
		return
	}

	docs, err := b.answers.ListDocuments(ctx, folder, 25)
	if err != nil {
		logger.Error("Failed to list folder %q: %v", folder, err)
		b.reply(ctx, chatID, "I couldn't list that folder, please try again.")
		return
	}
	if len(docs) == 0 {
		b.reply(ctx, chatID, fmt.Sprintf("No documents found under %q.", folder))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Documents under %q:\n", folder)
	for i, doc := range docs {
		title := doc.Title
		if title == "" {
			title = doc.SourceID
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) handleDocument(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID
	if !b.policy.IsAdmin(msg.From.ID) {
		b.reply(ctx, chatID, "Only admins can add documents to the library.")
		return
	}

	doc := msg.Document
	if doc.FileSize > maxDocumentBytes {
		b.reply(ctx, chatID, "That file is too large. Please keep documents under 5 MB.")
		return
	}

	text, err := b.downloadDocument(ctx, doc.FileID)
	if err != nil {
		logger.Error("Failed to download document %s: %v", doc.FileName, err)
		b.reply(ctx, chatID, "I couldn't download that file, please try again.")
		return
	}

	metadata := map[string]interface{}{
		"source_id":   doc.FileName,
		"title":       strings.TrimSuffix(doc.FileName, ".txt"),
		"uploaded_by": strconv.FormatInt(msg.From.ID, 10),
	}
	if msg.Caption != "" {
		metadata["folder"] = msg.Caption
	}

	n, err := b.ingester.Ingest(ctx, text, metadata)
	if err != nil {
		logger.Error("Failed to ingest document %s: %v", doc.FileName, err)
		b.reply(ctx, chatID, "I couldn't index that document, please try again.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Added %q to the library as %d searchable passages.", doc.FileName, n))
}

func (b *Bot) downloadDocument(ctx context.Context, fileID string) (string, error) {
	file, err := b.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.bot.FileDownloadLink(file), nil)
	if err != nil {
		return "", err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		logger.Error("Failed to send message to chat %d: %v", chatID, err)
	}
}

// renderAnswer formats the answer body plus a numbered source list.
func renderAnswer(ans core.RAGAnswer) string {
	var sb strings.Builder
	sb.WriteString(ans.Answer)

	if len(ans.Sources) > 0 {
		sb.WriteString("\n\nSources:\n")
		for i, src := range ans.Sources {
			title := src.Title
			if title == "" {
				title = src.SourceID
			}
			fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		}
	}
	if ans.Confidence == core.ConfidenceLow && len(ans.Sources) > 0 {
		sb.WriteString("\n(I'm not fully confident in this answer, please verify against the originals.)")
	}
	return sb.String()
}

func sessionID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
