// Package handler is the JSON admin API: review listing, sentence
// edits, batch locking, worksheet downloads, and email distribution.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tclam/worksheet/internal/i18n"
	"github.com/tclam/worksheet/internal/mailer"
	"github.com/tclam/worksheet/internal/model"
	"github.com/tclam/worksheet/internal/render"
	"github.com/tclam/worksheet/internal/sheet"
	"github.com/tclam/worksheet/internal/store"
)

// ReviewSource is the spreadsheet dependency of the handlers.
type ReviewSource interface {
	ListPending(ctx context.Context, level, school string) ([]model.ReviewRow, error)
	Students(ctx context.Context) ([]model.Student, error)
	MarkRows(ctx context.Context, timestamps []string, status model.Status, sentences map[string]string) error
	AppendCandidates(ctx context.Context, school, level, word string, sentences []string) error
	Refresh()
}

// Suggester produces candidate sentences for a target word.
type Suggester interface {
	SuggestSentences(ctx context.Context, word, level string, n int) ([]string, error)
}

// Config holds handler-level settings.
type Config struct {
	SecureCookies bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	sheets   ReviewSource
	mailer   mailer.Sender
	llm      Suggester
	renderer *render.Renderer
	config   Config
}

// New creates a new Handler. The llm dependency may be nil, in which
// case the suggest endpoint reports unavailability.
func New(s *store.Store, sh ReviewSource, m mailer.Sender, l Suggester, rd *render.Renderer, cfg Config) *Handler {
	return &Handler{store: s, sheets: sh, mailer: m, llm: l, renderer: rd, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/review", h.handleReviewList)
		r.Post("/review/sentence", h.handleUpdateSentence)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/suggest", h.handleSuggest)
		r.Post("/batches", h.handleCreateBatch)
		r.Get("/batches", h.handleListBatches)
		r.Get("/batches/{batchID}", h.handleGetBatch)
		r.Get("/batches/{batchID}/worksheet.pdf", h.handleWorksheetPDF)
		r.Get("/batches/{batchID}/answerkey.pdf", h.handleAnswerKeyPDF)
		r.Get("/batches/{batchID}/worksheet.rtf", h.handleWorksheetRTF)
		r.Get("/batches/{batchID}/deliveries", h.handleListDeliveries)
		r.Post("/batches/{batchID}/send", h.handleSend)
		r.Post("/batches/{batchID}/reset", h.handleReset)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, map[string]string{"error": i18n.T(r.Context(), msgID)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// wordGroup gathers the candidate sentences for one vocabulary word,
// in sheet order. The reviewer picks or edits one sentence per word.
type wordGroup struct {
	Word string            `json:"word"`
	Rows []model.ReviewRow `json:"rows"`
}

func groupByWord(rows []model.ReviewRow) []wordGroup {
	var groups []wordGroup
	index := map[string]int{}
	for _, r := range rows {
		i, ok := index[r.Word]
		if !ok {
			i = len(groups)
			index[r.Word] = i
			groups = append(groups, wordGroup{Word: r.Word})
		}
		groups[i].Rows = append(groups[i].Rows, r)
	}
	return groups
}

func (h *Handler) handleReviewList(w http.ResponseWriter, r *http.Request) {
	rows, err := h.sheets.ListPending(r.Context(), r.URL.Query().Get("level"), r.URL.Query().Get("school"))
	if err != nil {
		slog.Error("list review rows", "error", err)
		writeError(w, r, http.StatusBadGateway, "ErrSheetUnavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(rows),
		"words": groupByWord(rows),
	})
}

func (h *Handler) handleUpdateSentence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp string `json:"timestamp"`
		Sentence  string `json:"sentence"`
		Status    string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Timestamp == "" || req.Sentence == "" {
		http.Error(w, "timestamp and sentence are required", http.StatusBadRequest)
		return
	}
	status := model.Status(req.Status)
	if req.Status == "" {
		status = model.StatusReady
	}
	err := h.sheets.MarkRows(r.Context(), []string{req.Timestamp}, status,
		map[string]string{req.Timestamp: req.Sentence})
	if err != nil {
		slog.Error("update sentence", "timestamp", req.Timestamp, "error", err)
		writeError(w, r, http.StatusBadGateway, "ErrSheetUnavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"timestamp": req.Timestamp, "status": string(status)})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.sheets.Refresh()
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if h.llm == nil {
		http.Error(w, "sentence suggestion not configured", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Word   string `json:"word"`
		School string `json:"school"`
		Level  string `json:"level"`
		Count  int    `json:"count"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Word == "" {
		http.Error(w, "word is required", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = 2
	}

	sentences, err := h.llm.SuggestSentences(r.Context(), req.Word, req.Level, req.Count)
	if err != nil {
		slog.Error("suggest sentences", "word", req.Word, "error", err)
		http.Error(w, "suggestion failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if err := h.sheets.AppendCandidates(r.Context(), req.School, req.Level, req.Word, sentences); err != nil {
		slog.Error("append candidates", "word", req.Word, "error", err)
		writeError(w, r, http.StatusBadGateway, "ErrSheetUnavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"word": req.Word, "sentences": sentences})
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		School string `json:"school"`
		Level  string `json:"level"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.School == "" || req.Level == "" {
		http.Error(w, "school and level are required", http.StatusBadRequest)
		return
	}

	rows, err := h.sheets.ListPending(r.Context(), req.Level, req.School)
	if err != nil {
		slog.Error("list review rows", "error", err)
		writeError(w, r, http.StatusBadGateway, "ErrSheetUnavailable")
		return
	}
	if len(rows) == 0 {
		writeError(w, r, http.StatusBadRequest, "ErrNoQuestions")
		return
	}

	b := model.Batch{
		ID:     uuid.NewString(),
		School: req.School,
		Level:  req.Level,
		Status: model.BatchLoaded,
	}
	for _, row := range rows {
		b.Questions = append(b.Questions, model.Question{
			Word:    row.Word,
			Content: row.Sentence,
			School:  row.School,
			Level:   row.Level,
		})
		b.RowKeys = append(b.RowKeys, row.Timestamp)
	}

	if err := h.store.CreateBatch(b); err != nil {
		slog.Error("create batch", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.sheets.MarkRows(r.Context(), b.RowKeys, model.StatusLoaded, nil); err != nil {
		slog.Error("mark rows loaded", "batch", b.ID, "error", err)
		_ = h.store.UpdateBatchStatus(b.ID, model.BatchReset)
		writeError(w, r, http.StatusBadGateway, "ErrSheetUnavailable")
		return
	}

	slog.Info("batch locked", "batch", b.ID, "school", b.School, "level", b.Level, "questions", len(b.Questions))
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.store.ListBatches()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

// getBatch loads the batch from the URL parameter, writing the error
// response itself when the batch is absent.
func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) *model.Batch {
	b, err := h.store.GetBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil
	}
	if b == nil {
		writeError(w, r, http.StatusNotFound, "ErrBatchNotFound")
		return nil
	}
	return b
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b := h.getBatch(w, r)
	if b == nil {
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) servePDF(w http.ResponseWriter, r *http.Request, v render.Variant, suffix string) {
	b := h.getBatch(w, r)
	if b == nil {
		return
	}
	data, err := h.renderer.PDF(*b, "", v)
	if err != nil {
		slog.Error("render pdf", "batch", b.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	name := render.Filename(b.School, b.Level+suffix, "", "pdf", time.Now())
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleWorksheetPDF(w http.ResponseWriter, r *http.Request) {
	h.servePDF(w, r, render.Student, "")
}

func (h *Handler) handleAnswerKeyPDF(w http.ResponseWriter, r *http.Request) {
	h.servePDF(w, r, render.Teacher, "_answerkey")
}

func (h *Handler) handleWorksheetRTF(w http.ResponseWriter, r *http.Request) {
	b := h.getBatch(w, r)
	if b == nil {
		return
	}
	data := render.RTF(*b, "", render.Student)
	name := render.Filename(b.School, b.Level, "", "rtf", time.Now())
	w.Header().Set("Content-Type", "application/rtf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	b := h.getBatch(w, r)
	if b == nil {
		return
	}
	deliveries, err := h.store.ListDeliveries(b.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	b := h.getBatch(w, r)
	if b == nil {
		return
	}
	if b.Status != model.BatchLoaded {
		writeError(w, r, http.StatusConflict, "ErrBatchNotActive")
		return
	}

	students, err := h.sheets.Students(r.Context())
	if err != nil {
		slog.Error("load students", "error", err)
		writeError(w, r, http.StatusBadGateway, "ErrSheetUnavailable")
		return
	}
	matched := sheet.Match(students, b.School, b.Level)
	if len(matched) == 0 {
		writeError(w, r, http.StatusBadRequest, "ErrNoStudents")
		return
	}

	var sent, skipped, failed int
	for _, st := range matched {
		d := model.Delivery{BatchID: b.ID, StudentName: st.Name, Email: st.ParentEmail}

		pdf, err := h.renderer.PDF(*b, st.Name, render.Student)
		if err != nil {
			slog.Error("render worksheet", "batch", b.ID, "student", st.Name, "error", err)
			d.Status, d.Detail = model.DeliveryFailed, err.Error()
			failed++
			h.recordDelivery(d)
			continue
		}

		err = h.mailer.SendWorksheet(r.Context(), st, b.School, b.Level, pdf)
		var invalid *mailer.InvalidAddressError
		switch {
		case errors.As(err, &invalid):
			slog.Warn("skipping student with invalid email", "student", st.Name, "email", invalid.Addr)
			d.Status = model.DeliverySkipped
			d.Detail = i18n.Td(r.Context(), "ErrInvalidEmail", map[string]any{"Addr": invalid.Addr})
			skipped++
		case err != nil:
			slog.Error("send worksheet", "batch", b.ID, "student", st.Name, "error", err)
			d.Status, d.Detail = model.DeliveryFailed, err.Error()
			failed++
		default:
			d.Status = model.DeliverySent
			sent++
		}
		h.recordDelivery(d)
	}

	if failed == 0 && sent > 0 {
		if err := h.store.UpdateBatchStatus(b.ID, model.BatchSent); err != nil {
			slog.Error("update batch status", "batch", b.ID, "error", err)
		}
		if err := h.sheets.MarkRows(r.Context(), b.RowKeys, model.StatusSent, nil); err != nil {
			slog.Error("mark rows sent", "batch", b.ID, "error", err)
		}
	}

	slog.Info("batch send finished", "batch", b.ID, "sent", sent, "skipped", skipped, "failed", failed)
	writeJSON(w, http.StatusOK, map[string]any{
		"sent":    sent,
		"skipped": skipped,
		"failed":  failed,
		"summary": i18n.Td(r.Context(), "SendSummary", map[string]any{
			"Sent": sent, "Skipped": skipped, "Failed": failed,
		}),
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	b := h.getBatch(w, r)
	if b == nil {
		return
	}
	if b.Status != model.BatchLoaded {
		writeError(w, r, http.StatusConflict, "ErrBatchNotActive")
		return
	}

	if err := h.sheets.MarkRows(r.Context(), b.RowKeys, model.StatusReady, nil); err != nil {
		slog.Error("mark rows ready", "batch", b.ID, "error", err)
		writeError(w, r, http.StatusBadGateway, "ErrSheetUnavailable")
		return
	}
	if err := h.store.UpdateBatchStatus(b.ID, model.BatchReset); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("batch reset", "batch", b.ID)
	writeJSON(w, http.StatusOK, map[string]string{"id": b.ID, "status": string(model.BatchReset)})
}

func (h *Handler) recordDelivery(d model.Delivery) {
	if _, err := h.store.AddDelivery(d); err != nil {
		slog.Error("record delivery", "batch", d.BatchID, "student", d.StudentName, "error", err)
	}
}
