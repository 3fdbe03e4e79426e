package http

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/sanitize"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Async     bool                    `json:"async_ingestion"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.version, Async: s.core.AsyncEnabled()}
	if s.telemetry != nil {
		h := s.telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateTenant(c echo.Context) error {
	tenantID := c.Param("tenant")
	if err := s.core.CreateTenantIndex(c.Request().Context(), tenantID); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"tenant_id": tenantID})
}

func (s *Server) handleDeleteTenant(c echo.Context) error {
	res, err := s.core.DeleteTenantIndex(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleTenantStats(c echo.Context) error {
	st, err := s.core.TenantStats(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// IngestRequest is the request body for POST .../documents.
type IngestRequest struct {
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Replace    bool              `json:"replace,omitempty"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}
	res, err := s.core.Ingest(c.Request().Context(), ingestion.Request{
		TenantID:   c.Param("tenant"),
		DocumentID: req.DocumentID,
		Text:       req.Text,
		Metadata:   req.Metadata,
		Replace:    req.Replace,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

// UploadResponse is returned when an upload is queued.
type UploadResponse struct {
	DocumentID string           `json:"document_id"`
	TaskID     string           `json:"task_id"`
	Status     ingestion.Status `json:"status"`
}

// handleUpload stores a multipart "file" and ingests it. With async=true
// and a queue configured the reply is 202 and the worker does the rest.
func (s *Server) handleUpload(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := c.Param("tenant")
	if err := tenant.Validate(tenantID); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	documentID := c.FormValue("document_id")
	if documentID == "" {
		documentID = uuid.NewString()
	}
	async, _ := strconv.ParseBool(c.FormValue("async"))
	replace, _ := strconv.ParseBool(c.FormValue("replace"))

	path, err := s.saveUpload(tenantID, documentID, fh)
	if err != nil {
		return err
	}
	req := ingestion.FileRequest{
		TenantID:   tenantID,
		DocumentID: documentID,
		Path:       path,
		Metadata:   map[string]string{ingestion.MetadataSource: filepath.Base(fh.Filename)},
		Replace:    replace,
	}

	if async {
		taskID, err := s.core.IngestFileAsync(ctx, req)
		if err != nil {
			_ = os.Remove(path)
			return err
		}
		return c.JSON(http.StatusAccepted, UploadResponse{
			DocumentID: documentID, TaskID: taskID, Status: ingestion.StatusUploading,
		})
	}

	defer os.Remove(path)
	res, err := s.core.IngestFile(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) saveUpload(tenantID, documentID string, fh *multipart.FileHeader) (string, error) {
	dir := s.config.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, tenantID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	src, err := fh.Open()
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	name, err := sanitize.FileName(documentID, fh.Filename)
	if err != nil {
		return "", ragerr.New(ragerr.StageIngestion, "upload", fmt.Errorf("%w: %w", ragerr.ErrInvalidArgument, err))
	}
	path := filepath.Join(dir, name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return path, nil
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.core.Documents(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleDocumentStatus(c echo.Context) error {
	st, err := s.core.DocumentStatus(c.Request().Context(), c.Param("tenant"), c.Param("document"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	removed, err := s.core.DeleteDocument(c.Request().Context(), c.Param("tenant"), c.Param("document"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"chunks_removed": removed})
}

// RetrieveRequest is the request body for POST .../retrieve.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	TopN  int    `json:"top_n,omitempty"`
}

// RetrieveResponse lists ranked hits.
type RetrieveResponse struct {
	Hits []vectorstore.Hit `json:"hits"`
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	hits, err := s.core.Retrieve(c.Request().Context(), c.Param("tenant"), req.Query, req.TopK, req.TopN)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RetrieveResponse{Hits: hits})
}

// ChatRequest is the request body for the chat endpoints.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
	TopN           int    `json:"top_n,omitempty"`
}

func (s *Server) bindChat(c echo.Context) (chat.Request, error) {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return chat.Request{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return chat.Request{
		TenantID:       c.Param("tenant"),
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		TopK:           req.TopK,
		TopN:           req.TopN,
	}, nil
}

func (s *Server) handleChat(c echo.Context) error {
	req, err := s.bindChat(c)
	if err != nil {
		return err
	}
	resp, err := s.core.HandleChat(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// handleChatStream answers as server-sent events: "fragment" events with
// {"text": ...}, then one "done" event carrying the chat response, or an
// "error" event if the turn fails after streaming began.
func (s *Server) handleChatStream(c echo.Context) error {
	req, err := s.bindChat(c)
	if err != nil {
		return err
	}
	w := c.Response()
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.Header().Set(echo.HeaderCacheControl, "no-cache")
		w.Header().Set(echo.HeaderConnection, "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	resp, err := s.core.HandleChatStream(c.Request().Context(), req, func(fragment string) error {
		start()
		return writeEvent(w, "fragment", map[string]string{"text": fragment})
	})
	if err != nil {
		if !started {
			return err
		}
		s.logger.Warn(c.Request().Context(), "chat stream failed", zap.Error(err))
		return writeEvent(w, "error", errorBody(err))
	}
	start()
	return writeEvent(w, "done", resp)
}

func writeEvent(w *echo.Response, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) handleListConversations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	list, err := s.core.Conversations(c.Request().Context(), c.Param("tenant"), c.QueryParam("user_id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.core.Conversation(c.Request().Context(), c.Param("tenant"), c.Param("conversation"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}
