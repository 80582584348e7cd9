package app

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"insightchat/internal/analysis"
	"insightchat/internal/model"
)

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrEmptyMessage  = errors.New("message needs text, a tabular file, or a dataset selection")
	ErrTextRequired  = errors.New("reply requires a text query")
	ErrReplyInFlight = errors.New("a reply for this chat is already in flight")
)

const defaultChatTitle = "New chat"

type ChatStore interface {
	Create(chat *model.Chat) error
	GetByIDAndProjectID(chatID, projectID uint) (*model.Chat, error)
	LatestByProjectID(projectID uint) (*model.Chat, error)
	Rename(chatID uint, title string) error
	Touch(chatID uint) error
}

type MessageStore interface {
	Create(message *model.Message) error
	ListByChatID(chatID uint) ([]model.Message, error)
}

type DatasetStore interface {
	Create(dataset *model.Dataset) error
	ListByIDsAndProjectID(ids []uint, projectID uint) ([]model.Dataset, error)
}

// Dispatcher sends exactly one analysis request per call.
type Dispatcher interface {
	Dispatch(ctx context.Context, userText string, payload analysis.Context, files []analysis.FilePart) (*analysis.Result, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, chatID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, chatID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, chatID uint) error
	MarkDirty(ctx context.Context, chatID uint) error
	IsDirty(ctx context.Context, chatID uint) (bool, error)
}

// ReplyLocker is the advisory per-chat lock taken while a reply is in flight.
type ReplyLocker interface {
	TryLock(ctx context.Context, chatID uint) (bool, error)
	Unlock(ctx context.Context, chatID uint)
}

// RetentionPublisher announces that a chat's attachment blobs may be stripped.
type RetentionPublisher interface {
	Publish(ctx context.Context, chatID uint) error
}

type ChatService struct {
	guard         *AccessGuard
	chats         ChatStore
	messages      MessageStore
	datasets      DatasetStore
	dispatcher    Dispatcher
	historyCache  HistoryCache
	locker        ReplyLocker
	retention     RetentionPublisher
	publicBaseURL string
	recentTurns   int
}

func NewChatService(
	guard *AccessGuard,
	chats ChatStore,
	messages MessageStore,
	datasets DatasetStore,
	dispatcher Dispatcher,
	historyCache HistoryCache,
	locker ReplyLocker,
	retention RetentionPublisher,
	publicBaseURL string,
	recentTurns int,
) *ChatService {
	if recentTurns <= 0 {
		recentTurns = defaultRecentTurns
	}
	return &ChatService{
		guard:         guard,
		chats:         chats,
		messages:      messages,
		datasets:      datasets,
		dispatcher:    dispatcher,
		historyCache:  historyCache,
		locker:        locker,
		retention:     retention,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		recentTurns:   recentTurns,
	}
}

type SubmitMessageInput struct {
	Caller     Caller
	ProjectID  uint
	ChatID     uint // 0 means resolve the project's latest chat or create one
	Text       string
	DatasetIDs []string
	Files      []IncomingFile
}

type SubmitMessageResult struct {
	ChatID  uint          `json:"chat_id"`
	Message model.Message `json:"message"`
}

// SubmitMessage appends one user turn to the chat. Retained tabular uploads
// are also registered as project datasets so later turns can reach them by
// URL after their raw bytes are stripped.
func (s *ChatService) SubmitMessage(ctx context.Context, input SubmitMessageInput) (*SubmitMessageResult, error) {
	if input.ProjectID == 0 {
		return nil, ErrInvalidInput
	}
	project, err := s.guard.Authorize(input.Caller, input.ProjectID)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(input.Text)
	attachments := FilterTabular(input.Files)
	selected := normalizeIDs(input.DatasetIDs)
	if text == "" && len(attachments) == 0 && len(selected) == 0 {
		return nil, ErrEmptyMessage
	}

	chat, err := s.resolveChat(project.ID, input.ChatID)
	if err != nil {
		return nil, err
	}

	for i := range attachments {
		dataset, err := s.registerUploadDataset(project.ID, &attachments[i])
		if err != nil {
			return nil, err
		}
		attachments[i].DatasetID = dataset.ID
		selected = append(selected, strconv.FormatUint(uint64(dataset.ID), 10))
	}

	message := &model.Message{
		ChatID:      chat.ID,
		Role:        model.RoleUser,
		Content:     text,
		Attachments: attachments,
	}
	message.SetDatasetIDs(selected)
	if err := s.messages.Create(message); err != nil {
		return nil, err
	}
	if err := s.chats.Touch(chat.ID); err != nil {
		log.Printf("touch chat %d failed: %v", chat.ID, err)
	}
	s.invalidateHistory(ctx, chat.ID)

	return &SubmitMessageResult{ChatID: chat.ID, Message: *message}, nil
}

type RequestReplyInput struct {
	Caller    Caller
	ProjectID uint
	ChatID    uint
	Text      string
}

// RequestReply aggregates the chat's cumulative context and dispatches one
// analysis request, persisting the raw result as an assistant message. A
// failed dispatch leaves the previously saved user message intact; the turn
// is not rolled back.
func (s *ChatService) RequestReply(ctx context.Context, input RequestReplyInput) (*analysis.Result, error) {
	if input.ProjectID == 0 || input.ChatID == 0 {
		return nil, ErrInvalidInput
	}
	project, err := s.guard.Authorize(input.Caller, input.ProjectID)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, ErrTextRequired
	}

	chat, err := s.chats.GetByIDAndProjectID(input.ChatID, project.ID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	if s.locker != nil {
		acquired, lockErr := s.locker.TryLock(ctx, chat.ID)
		if lockErr != nil {
			// The lock is advisory; proceed when redis is unavailable.
			log.Printf("acquire reply lock for chat %d failed: %v", chat.ID, lockErr)
		} else if !acquired {
			return nil, ErrReplyInFlight
		} else {
			defer s.locker.Unlock(ctx, chat.ID)
		}
	}

	history, err := s.messages.ListByChatID(chat.ID)
	if err != nil {
		return nil, err
	}

	files := currentTurnFiles(history)
	payload, err := AggregateContext(history, files, s.resolver(project.ID), s.recentTurns)
	if err != nil {
		return nil, err
	}

	parts := make([]analysis.FilePart, 0, len(files))
	for i := range files {
		parts = append(parts, analysis.FilePart{Name: files[i].OriginalName, Data: files[i].RawContent})
	}

	result, err := s.dispatcher.Dispatch(ctx, text, payload, parts)
	if err != nil {
		return nil, err
	}

	reply := &model.Message{
		ChatID:  chat.ID,
		Role:    model.RoleAssistant,
		Content: string(result.Raw()),
	}
	reply.SetDatasetIDs(nil)
	if err := s.messages.Create(reply); err != nil {
		return nil, err
	}
	if err := s.chats.Touch(chat.ID); err != nil {
		log.Printf("touch chat %d failed: %v", chat.ID, err)
	}
	s.invalidateHistory(ctx, chat.ID)

	if s.retention != nil {
		if err := s.retention.Publish(ctx, chat.ID); err != nil {
			log.Printf("publish retention event for chat %d failed: %v", chat.ID, err)
		}
	}
	return result, nil
}

type CreateChatInput struct {
	Caller    Caller
	ProjectID uint
}

func (s *ChatService) CreateChat(input CreateChatInput) (*model.Chat, error) {
	if input.ProjectID == 0 {
		return nil, ErrInvalidInput
	}
	project, err := s.guard.Authorize(input.Caller, input.ProjectID)
	if err != nil {
		return nil, err
	}
	chat := &model.Chat{ProjectID: project.ID, Title: defaultChatTitle}
	if err := s.chats.Create(chat); err != nil {
		return nil, err
	}
	return chat, nil
}

type RenameChatInput struct {
	Caller    Caller
	ProjectID uint
	ChatID    uint
	Title     string
}

func (s *ChatService) RenameChat(input RenameChatInput) (*model.Chat, error) {
	if input.ProjectID == 0 || input.ChatID == 0 {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrInvalidInput
	}
	project, err := s.guard.Authorize(input.Caller, input.ProjectID)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByIDAndProjectID(input.ChatID, project.ID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if err := s.chats.Rename(chat.ID, title); err != nil {
		return nil, err
	}
	chat.Title = title
	return chat, nil
}

type HistoryInput struct {
	Caller    Caller
	ProjectID uint
	ChatID    uint
}

type ChatHistory struct {
	Chat     model.Chat      `json:"chat"`
	Messages []model.Message `json:"messages"`
}

func (s *ChatService) GetHistory(ctx context.Context, input HistoryInput) (*ChatHistory, error) {
	if input.ProjectID == 0 || input.ChatID == 0 {
		return nil, ErrInvalidInput
	}
	project, err := s.guard.Authorize(input.Caller, input.ProjectID)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.GetByIDAndProjectID(input.ChatID, project.ID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	if s.historyCache != nil {
		dirty, dirtyErr := s.historyCache.IsDirty(ctx, chat.ID)
		if dirtyErr == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, chat.ID); cacheErr == nil && hit {
				return &ChatHistory{Chat: *chat, Messages: cached}, nil
			}
		}
	}

	messages, err := s.messages.ListByChatID(chat.ID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, chat.ID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, chat.ID, messages)
		}
	}
	return &ChatHistory{Chat: *chat, Messages: messages}, nil
}

// resolveChat implements get-or-create. Two concurrent first messages without
// a chat id can race to create two chats; that is accepted rather than locked.
func (s *ChatService) resolveChat(projectID, chatID uint) (*model.Chat, error) {
	if chatID != 0 {
		chat, err := s.chats.GetByIDAndProjectID(chatID, projectID)
		if err != nil {
			return nil, err
		}
		if chat == nil {
			return nil, ErrChatNotFound
		}
		return chat, nil
	}
	chat, err := s.chats.LatestByProjectID(projectID)
	if err != nil {
		return nil, err
	}
	if chat != nil {
		return chat, nil
	}
	chat = &model.Chat{ProjectID: projectID, Title: defaultChatTitle}
	if err := s.chats.Create(chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) registerUploadDataset(projectID uint, att *model.Attachment) (*model.Dataset, error) {
	key := uuid.NewString()
	dataset := &model.Dataset{
		ProjectID: projectID,
		Name:      att.OriginalName,
		Location:  s.publicBaseURL + "/files/datasets/" + key,
		BlobKey:   key,
		Content:   att.RawContent,
	}
	if err := s.datasets.Create(dataset); err != nil {
		return nil, err
	}
	return dataset, nil
}

// resolver scopes dataset resolution to the project and keeps the requested
// (first-seen) order.
func (s *ChatService) resolver(projectID uint) DatasetResolver {
	return func(ids []string) ([]model.Dataset, error) {
		numeric := make([]uint, 0, len(ids))
		for _, id := range ids {
			parsed, err := strconv.ParseUint(id, 10, 64)
			if err != nil {
				continue
			}
			numeric = append(numeric, uint(parsed))
		}
		found, err := s.datasets.ListByIDsAndProjectID(numeric, projectID)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]model.Dataset, len(found))
		for _, d := range found {
			byID[strconv.FormatUint(uint64(d.ID), 10)] = d
		}
		ordered := make([]model.Dataset, 0, len(found))
		for _, id := range ids {
			if d, ok := byID[id]; ok {
				ordered = append(ordered, d)
			}
		}
		return ordered, nil
	}
}

// currentTurnFiles picks the retained attachments of the latest user message.
// Older uploads travel only through their registered dataset entries.
func currentTurnFiles(history []model.Message) []model.Attachment {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != model.RoleUser {
			continue
		}
		var retained []model.Attachment
		for _, a := range history[i].Attachments {
			if a.Retained() {
				retained = append(retained, a)
			}
		}
		return retained
	}
	return nil
}

func (s *ChatService) invalidateHistory(ctx context.Context, chatID uint) {
	if s.historyCache == nil {
		return
	}
	_ = s.historyCache.MarkDirty(ctx, chatID)
	_ = s.historyCache.DeleteHistory(ctx, chatID)
}
