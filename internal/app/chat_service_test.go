package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"insightchat/internal/analysis"
	"insightchat/internal/model"
)

type memChatStore struct {
	chats  map[uint]*model.Chat
	nextID uint
}

func newMemChatStore() *memChatStore {
	return &memChatStore{chats: make(map[uint]*model.Chat), nextID: 1}
}

func (s *memChatStore) Create(chat *model.Chat) error {
	chat.ID = s.nextID
	s.nextID++
	copied := *chat
	s.chats[chat.ID] = &copied
	return nil
}

func (s *memChatStore) GetByIDAndProjectID(chatID, projectID uint) (*model.Chat, error) {
	chat, ok := s.chats[chatID]
	if !ok || chat.ProjectID != projectID {
		return nil, nil
	}
	copied := *chat
	return &copied, nil
}

func (s *memChatStore) LatestByProjectID(projectID uint) (*model.Chat, error) {
	var latest *model.Chat
	for _, chat := range s.chats {
		if chat.ProjectID != projectID {
			continue
		}
		if latest == nil || chat.ID > latest.ID {
			latest = chat
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *memChatStore) Rename(chatID uint, title string) error {
	if chat, ok := s.chats[chatID]; ok {
		chat.Title = title
	}
	return nil
}

func (s *memChatStore) Touch(uint) error { return nil }

type memMessageStore struct {
	messages []model.Message
	nextID   uint
}

func newMemMessageStore() *memMessageStore { return &memMessageStore{nextID: 1} }

func (s *memMessageStore) Create(message *model.Message) error {
	message.ID = s.nextID
	s.nextID++
	s.messages = append(s.messages, *message)
	return nil
}

func (s *memMessageStore) ListByChatID(chatID uint) ([]model.Message, error) {
	var out []model.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

type memDatasetStore struct {
	datasets map[uint]model.Dataset
	nextID   uint
}

func newMemDatasetStore() *memDatasetStore {
	return &memDatasetStore{datasets: make(map[uint]model.Dataset), nextID: 1}
}

func (s *memDatasetStore) Create(dataset *model.Dataset) error {
	dataset.ID = s.nextID
	s.nextID++
	s.datasets[dataset.ID] = *dataset
	return nil
}

func (s *memDatasetStore) ListByIDsAndProjectID(ids []uint, projectID uint) ([]model.Dataset, error) {
	var out []model.Dataset
	for _, id := range ids {
		if d, ok := s.datasets[id]; ok && d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out, nil
}

type recordingDispatcher struct {
	lastText    string
	lastPayload analysis.Context
	lastFiles   []analysis.FilePart
	calls       int
	result      *analysis.Result
	err         error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, userText string, payload analysis.Context, files []analysis.FilePart) (*analysis.Result, error) {
	d.calls++
	d.lastText = userText
	d.lastPayload = payload
	d.lastFiles = files
	if d.err != nil {
		return nil, d.err
	}
	if d.result != nil {
		return d.result, nil
	}
	return analysis.ResultFromRaw([]byte(`{"insights":"ok"}`)), nil
}

type fakeReplyLocker struct {
	held    bool
	unlocks int
}

func (l *fakeReplyLocker) TryLock(context.Context, uint) (bool, error) { return !l.held, nil }
func (l *fakeReplyLocker) Unlock(context.Context, uint)                { l.unlocks++ }

type recordingRetention struct{ published []uint }

func (r *recordingRetention) Publish(_ context.Context, chatID uint) error {
	r.published = append(r.published, chatID)
	return nil
}

type serviceFixture struct {
	service    *ChatService
	chats      *memChatStore
	messages   *memMessageStore
	datasets   *memDatasetStore
	dispatcher *recordingDispatcher
	locker     *fakeReplyLocker
	retention  *recordingRetention
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		chats:      newMemChatStore(),
		messages:   newMemMessageStore(),
		datasets:   newMemDatasetStore(),
		dispatcher: &recordingDispatcher{},
		locker:     &fakeReplyLocker{},
		retention:  &recordingRetention{},
	}
	guard := NewAccessGuard(newGuardFixture())
	f.service = NewChatService(guard, f.chats, f.messages, f.datasets, f.dispatcher, nil, f.locker, f.retention, "http://api.example.com", 5)
	return f
}

func memberCaller() Caller {
	return Caller{UserID: 100, OrganizationID: 7, Role: model.RoleMember}
}

func TestSubmitMessage_EmptyTurnRejected(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	_, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller:    memberCaller(),
		ProjectID: 10,
		Text:      "   ",
		Files:     []IncomingFile{{Name: "photo.png", ContentType: "image/png", Data: pngHeader}},
	})
	req.ErrorIs(err, ErrEmptyMessage)
	req.Empty(f.messages.messages)
	req.Empty(f.chats.chats)
}

func TestSubmitMessage_AuthorizationBeforePersistence(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	_, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller:    Caller{UserID: 101, OrganizationID: 7, Role: model.RoleMember},
		ProjectID: 10,
		Text:      "hello",
	})
	req.ErrorIs(err, ErrNotTeamMember)
	req.Empty(f.messages.messages)
	req.Empty(f.chats.chats)
}

func TestRequestReply_AuthorizationBeforeDispatch(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	chat, err := f.service.CreateChat(CreateChatInput{Caller: memberCaller(), ProjectID: 10})
	req.NoError(err)

	_, err = f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller:    Caller{UserID: 101, OrganizationID: 7, Role: model.RoleMember},
		ProjectID: 10,
		ChatID:    chat.ID,
		Text:      "plot it",
	})
	req.ErrorIs(err, ErrNotTeamMember)
	req.Zero(f.dispatcher.calls)
	req.Empty(f.messages.messages)
}

func TestSubmitMessage_DropsNonTabularUploads(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	res, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller:    memberCaller(),
		ProjectID: 10,
		Text:      "here you go",
		Files: []IncomingFile{
			{Name: "data.csv", ContentType: "text/csv", Data: []byte("a,b\n")},
			{Name: "chart.png", ContentType: "image/png", Data: pngHeader},
		},
	})
	req.NoError(err)

	req.Len(res.Message.Attachments, 1)
	req.Equal("data.csv", res.Message.Attachments[0].OriginalName)
	req.Len(f.datasets.datasets, 1)
}

func TestSubmitMessage_CreatesChatOnceThenReuses(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	first, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, Text: "first question",
	})
	req.NoError(err)
	second, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, Text: "second question",
	})
	req.NoError(err)

	req.Equal(first.ChatID, second.ChatID)
	req.Len(f.chats.chats, 1)
	req.Len(f.messages.messages, 2)
}

func TestSubmitMessage_RegistersUploadAsDataset(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	res, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller:    memberCaller(),
		ProjectID: 10,
		Text:      "look at this",
		Files: []IncomingFile{
			{Name: "upload.csv", ContentType: "text/csv", Size: 8, Data: []byte("a,b\n1,2\n")},
		},
	})
	req.NoError(err)

	req.Len(f.datasets.datasets, 1)
	registered := f.datasets.datasets[1]
	req.Equal("upload.csv", registered.Name)
	req.Equal(uint(10), registered.ProjectID)
	req.NotEmpty(registered.BlobKey)
	req.Equal("http://api.example.com/files/datasets/"+registered.BlobKey, registered.Location)
	req.Equal([]byte("a,b\n1,2\n"), registered.Content)

	// The new dataset id joins the turn's selection so later turns see it.
	req.Equal([]string{"1"}, res.Message.DatasetIDs())
	req.Len(res.Message.Attachments, 1)
}

func TestRequestReply_TextRequired(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	chat, err := f.service.CreateChat(CreateChatInput{Caller: memberCaller(), ProjectID: 10})
	req.NoError(err)

	_, err = f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: chat.ID, Text: "  ",
	})
	req.ErrorIs(err, ErrTextRequired)
	req.Zero(f.dispatcher.calls)
}

func TestRequestReply_UnknownChat(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	_, err := f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: 77, Text: "plot it",
	})
	req.ErrorIs(err, ErrChatNotFound)
}

func TestRequestReply_ConflictWhileInFlight(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()
	f.locker.held = true

	chat, err := f.service.CreateChat(CreateChatInput{Caller: memberCaller(), ProjectID: 10})
	req.NoError(err)

	_, err = f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: chat.ID, Text: "plot it",
	})
	req.ErrorIs(err, ErrReplyInFlight)
	req.Zero(f.dispatcher.calls)
}

func TestRequestReply_PersistsAssistantTurnAndPublishesRetention(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()
	f.dispatcher.result = analysis.ResultFromRaw([]byte(`{"summary":"trend is up","insights":"sales grew"}`))

	submitted, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, Text: "how are sales trending?",
	})
	req.NoError(err)

	result, err := f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: submitted.ChatID, Text: "how are sales trending?",
	})
	req.NoError(err)
	req.Equal("sales grew", result.Insights)

	history, err := f.messages.ListByChatID(submitted.ChatID)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal(model.RoleAssistant, history[1].Role)
	// The assistant turn stores the engine's raw body verbatim.
	req.JSONEq(`{"summary":"trend is up","insights":"sales grew"}`, history[1].Content)

	req.Equal([]uint{submitted.ChatID}, f.retention.published)
	req.Equal(1, f.locker.unlocks)
}

func TestRequestReply_DispatchFailureKeepsUserMessage(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()
	f.dispatcher.err = &analysis.TransportError{Cause: errors.New("connection refused")}

	submitted, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, Text: "how are sales trending?",
	})
	req.NoError(err)

	_, err = f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: submitted.ChatID, Text: "how are sales trending?",
	})
	var transport *analysis.TransportError
	req.ErrorAs(err, &transport)

	// The user turn submitted before dispatch stays in the log.
	history, err := f.messages.ListByChatID(submitted.ChatID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(model.RoleUser, history[0].Role)
	req.Empty(f.retention.published)
}

func TestRequestReply_AggregatesDatasetsAcrossTurns(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	// Seed two registry datasets on the project.
	req.NoError(f.datasets.Create(&model.Dataset{ProjectID: 10, Name: "sales.csv", Location: "http://files/sales.csv"}))
	req.NoError(f.datasets.Create(&model.Dataset{ProjectID: 10, Name: "costs.csv", Location: "http://files/costs.csv"}))

	first, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, Text: "plot revenue", DatasetIDs: []string{"1"},
	})
	req.NoError(err)
	_, err = f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: first.ChatID, Text: "now add costs", DatasetIDs: []string{"2", "1"},
	})
	req.NoError(err)

	_, err = f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: first.ChatID, Text: "now add costs",
	})
	req.NoError(err)

	payload := f.dispatcher.lastPayload
	req.Len(payload.Datasets, 2)
	req.Equal("sales.csv", payload.Datasets[0].Name)
	req.Equal("costs.csv", payload.Datasets[1].Name)
	req.Len(payload.Messages, 2)
	req.Equal("now add costs", f.dispatcher.lastText)
}

func TestRequestReply_OnlyCurrentTurnFilesTravelAsBytes(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	first, err := f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, Text: "here is last month",
		Files: []IncomingFile{{Name: "june.csv", ContentType: "text/csv", Data: []byte("a\n1\n")}},
	})
	req.NoError(err)
	_, err = f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: first.ChatID, Text: "here is last month",
	})
	req.NoError(err)

	_, err = f.service.SubmitMessage(context.Background(), SubmitMessageInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: first.ChatID, Text: "and this month",
		Files: []IncomingFile{{Name: "july.csv", ContentType: "text/csv", Data: []byte("a\n2\n")}},
	})
	req.NoError(err)
	_, err = f.service.RequestReply(context.Background(), RequestReplyInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: first.ChatID, Text: "and this month",
	})
	req.NoError(err)

	// Raw bytes for the current turn only; june travels via its dataset entry.
	req.Len(f.dispatcher.lastFiles, 1)
	req.Equal("july.csv", f.dispatcher.lastFiles[0].Name)

	// july appears once, as the inline entry; its registry entry is skipped.
	req.Len(f.dispatcher.lastPayload.Datasets, 2)
	req.Equal("june.csv", f.dispatcher.lastPayload.Datasets[0].Name)
	req.NotEqual(analysis.InlineUploadLocation, f.dispatcher.lastPayload.Datasets[0].URL)
	req.Equal("july.csv", f.dispatcher.lastPayload.Datasets[1].Name)
	req.Equal(analysis.InlineUploadLocation, f.dispatcher.lastPayload.Datasets[1].URL)
}

func TestRenameChat(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	chat, err := f.service.CreateChat(CreateChatInput{Caller: memberCaller(), ProjectID: 10})
	req.NoError(err)

	_, err = f.service.RenameChat(RenameChatInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: chat.ID, Title: "  ",
	})
	req.ErrorIs(err, ErrInvalidInput)

	renamed, err := f.service.RenameChat(RenameChatInput{
		Caller: memberCaller(), ProjectID: 10, ChatID: chat.ID, Title: "Q3 forecast",
	})
	req.NoError(err)
	req.Equal("Q3 forecast", renamed.Title)
	req.Equal("Q3 forecast", f.chats.chats[chat.ID].Title)
}

func TestGetHistoryRequiresMembership(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture()

	chat, err := f.service.CreateChat(CreateChatInput{Caller: memberCaller(), ProjectID: 10})
	req.NoError(err)

	_, err = f.service.GetHistory(context.Background(), HistoryInput{
		Caller:    Caller{UserID: 101, OrganizationID: 7, Role: model.RoleMember},
		ProjectID: 10,
		ChatID:    chat.ID,
	})
	req.ErrorIs(err, ErrNotTeamMember)
}
