package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"insightchat/internal/analysis"
	"insightchat/internal/app"
	"insightchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type RenameChatRequest struct {
	Title string `json:"title" binding:"required,max=128"`
}

type RequestReplyRequest struct {
	Text string `json:"text" binding:"required"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	projectID, ok := projectIDFromPath(c)
	if !ok {
		return
	}

	chat, err := h.chatService.CreateChat(app.CreateChatInput{
		Caller:    caller,
		ProjectID: projectID,
	})
	if err != nil {
		h.writeError(c, err, "create chat failed")
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) RenameChat(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	projectID, ok := projectIDFromPath(c)
	if !ok {
		return
	}
	chatID, err := parseUintParam(c, "chatID")
	if err != nil || chatID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}

	var req RenameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	chat, err := h.chatService.RenameChat(app.RenameChatInput{
		Caller:    caller,
		ProjectID: projectID,
		ChatID:    chatID,
		Title:     req.Title,
	})
	if err != nil {
		h.writeError(c, err, "rename chat failed")
		return
	}
	response.OK(c, chat)
}

// SubmitMessage accepts a multipart (or form-encoded) submission with fields
// "text", "chat_id", "dataset_ids", and repeated "files" parts.
func (h *ChatHandler) SubmitMessage(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	projectID, ok := projectIDFromPath(c)
	if !ok {
		return
	}

	chatID := parseUintForm(c, "chat_id")
	datasetIDs, err := app.ParseDatasetIDs(c.PostForm("dataset_ids"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		return
	}

	files, err := readUploads(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read uploaded files")
		return
	}

	result, err := h.chatService.SubmitMessage(c.Request.Context(), app.SubmitMessageInput{
		Caller:     caller,
		ProjectID:  projectID,
		ChatID:     chatID,
		Text:       c.PostForm("text"),
		DatasetIDs: datasetIDs,
		Files:      files,
	})
	if err != nil {
		h.writeError(c, err, "submit message failed")
		return
	}
	response.OK(c, result)
}

func (h *ChatHandler) RequestReply(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	projectID, ok := projectIDFromPath(c)
	if !ok {
		return
	}
	chatID, err := parseUintParam(c, "chatID")
	if err != nil || chatID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}

	var req RequestReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "text is required")
		return
	}

	result, err := h.chatService.RequestReply(c.Request.Context(), app.RequestReplyInput{
		Caller:    caller,
		ProjectID: projectID,
		ChatID:    chatID,
		Text:      req.Text,
	})
	if err != nil {
		h.writeError(c, err, "request reply failed")
		return
	}
	response.OK(c, result)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	projectID, ok := projectIDFromPath(c)
	if !ok {
		return
	}
	chatID, err := parseUintParam(c, "chatID")
	if err != nil || chatID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chat id")
		return
	}

	history, err := h.chatService.GetHistory(c.Request.Context(), app.HistoryInput{
		Caller:    caller,
		ProjectID: projectID,
		ChatID:    chatID,
	})
	if err != nil {
		h.writeError(c, err, "get history failed")
		return
	}
	response.OK(c, history)
}

// writeError maps service errors onto the stable external error shape.
// Internal causes stay in logs; only curated details reach the caller.
func (h *ChatHandler) writeError(c *gin.Context, err error, fallback string) {
	var upstreamErr *analysis.UpstreamError
	var transportErr *analysis.TransportError

	switch {
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, app.ErrEmptyMessage),
		errors.Is(err, app.ErrTextRequired),
		errors.Is(err, app.ErrMalformedDatasetIDs):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrWrongOrganization), errors.Is(err, app.ErrNotTeamMember):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
	case errors.Is(err, app.ErrProjectNotFound):
		response.Error(c, http.StatusNotFound, response.CodeProjectNotFound, err.Error())
	case errors.Is(err, app.ErrChatNotFound):
		response.Error(c, http.StatusNotFound, response.CodeChatNotFound, err.Error())
	case errors.Is(err, app.ErrReplyInFlight):
		response.Error(c, http.StatusConflict, response.CodeReplyInFlight, err.Error())
	case errors.As(err, &upstreamErr):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamError,
			fmt.Sprintf("analysis engine error (status %d): %s", upstreamErr.Status, upstreamErr.Detail))
	case errors.As(err, &transportErr):
		response.Error(c, http.StatusGatewayTimeout, response.CodeUpstreamTimeout,
			"analysis engine did not respond")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func projectIDFromPath(c *gin.Context) (uint, bool) {
	projectID, err := parseUintParam(c, "projectID")
	if err != nil || projectID == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid project id")
		return 0, false
	}
	return projectID, true
}

func readUploads(c *gin.Context) ([]app.IncomingFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		// Not a multipart request; a text-only submission is fine.
		return nil, nil
	}

	var files []app.IncomingFile
	for _, header := range form.File["files"] {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, app.IncomingFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Data:        data,
		})
	}
	return files, nil
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	u, err := strconv.ParseUint(c.Param(key), 10, 64)
	return uint(u), err
}

func parseUintForm(c *gin.Context, key string) uint {
	s := c.PostForm(key)
	if s == "" {
		return 0
	}
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}
