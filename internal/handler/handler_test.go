package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tclam/worksheet/internal/fonts"
	"github.com/tclam/worksheet/internal/i18n"
	"github.com/tclam/worksheet/internal/mailer"
	"github.com/tclam/worksheet/internal/model"
	"github.com/tclam/worksheet/internal/render"
	"github.com/tclam/worksheet/internal/store"
)

type markCall struct {
	timestamps []string
	status     model.Status
	sentences  map[string]string
}

type fakeSheet struct {
	rows      []model.ReviewRow
	students  []model.Student
	marks     []markCall
	appended  [][]string
	refreshes int
}

func (f *fakeSheet) ListPending(_ context.Context, level, school string) ([]model.ReviewRow, error) {
	var out []model.ReviewRow
	for _, r := range f.rows {
		if !r.Status.Active() {
			continue
		}
		if level != "" && r.Level != level {
			continue
		}
		if school != "" && r.School != school {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeSheet) Students(context.Context) ([]model.Student, error) {
	return f.students, nil
}

func (f *fakeSheet) MarkRows(_ context.Context, timestamps []string, status model.Status, sentences map[string]string) error {
	f.marks = append(f.marks, markCall{timestamps: timestamps, status: status, sentences: sentences})
	return nil
}

func (f *fakeSheet) AppendCandidates(_ context.Context, school, level, word string, sentences []string) error {
	f.appended = append(f.appended, append([]string{school, level, word}, sentences...))
	return nil
}

func (f *fakeSheet) Refresh() { f.refreshes++ }

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) SendWorksheet(_ context.Context, st model.Student, _, _ string, _ []byte) error {
	if !mailer.ValidAddress(st.ParentEmail) {
		return &mailer.InvalidAddressError{Addr: st.ParentEmail}
	}
	f.sent = append(f.sent, st.ParentEmail)
	return nil
}

type fakeSuggester struct {
	sentences []string
}

func (f *fakeSuggester) SuggestSentences(_ context.Context, word, level string, n int) ([]string, error) {
	return f.sentences, nil
}

type testEnv struct {
	store  *store.Store
	sheet  *fakeSheet
	mailer *fakeMailer
	srv    *httptest.Server
	cookie *http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("init i18n: %v", err)
	}

	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	userID, err := s.CreateUser(model.User{Username: "admin", PasswordHash: string(hash)})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := s.CreateAuthSession(userID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	renderer, err := render.New(fonts.Resolve())
	if err != nil {
		t.Fatalf("create renderer: %v", err)
	}

	fs := &fakeSheet{
		rows: []model.ReviewRow{
			{Timestamp: "ts-1", School: "一小", Level: "P4", Word: "定期",
				Sentence: "小明【定期】檢查牙齒。", Source: model.SourceDB, Status: model.StatusReady},
			{Timestamp: "ts-2", School: "一小", Level: "P4", Word: "鼎盛",
				Sentence: "廟宇香火【鼎盛】。", Source: model.SourceAI, Status: model.StatusPending},
			{Timestamp: "ts-3", School: "二小", Level: "P5", Word: "欣賞",
				Sentence: "我們【欣賞】日落。", Source: model.SourceDB, Status: model.StatusReady},
		},
		students: []model.Student{
			{School: "一小", Level: "P4", Name: "陳小明", ParentEmail: "parent1@example.com", Active: true},
			{School: "一小", Level: "P4", Name: "李大文", ParentEmail: "not-an-email", Active: true},
			{School: "一小", Level: "P4", Name: "停用生", ParentEmail: "off@example.com", Active: false},
			{School: "二小", Level: "P5", Name: "別校生", ParentEmail: "other@example.com", Active: true},
		},
	}
	fm := &fakeMailer{}

	h := New(s, fs, fm, &fakeSuggester{sentences: []string{"他【努力】學習。"}}, renderer, Config{})
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{
		store:  s,
		sheet:  fs,
		mailer: fm,
		srv:    srv,
		cookie: &http.Cookie{Name: sessionCookieName, Value: token},
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(e.cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestLoginFlow(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Post(e.srv.URL+"/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"wrong"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Post(e.srv.URL+"/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"secret"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status = %d, want 200", resp.StatusCode)
	}
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("login did not set a session cookie")
	}
}

func TestRequireAuth(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/review")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no cookie: status = %d, want 401", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/review", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with cookie: status = %d, want 200", resp.StatusCode)
	}
}

func TestReviewListFiltering(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/review?school=一小&level=P4", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Count int         `json:"count"`
		Words []wordGroup `json:"words"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}
	if len(body.Words) != 2 || body.Words[0].Word != "定期" || body.Words[1].Word != "鼎盛" {
		t.Errorf("words = %+v", body.Words)
	}
}

func TestGroupByWord(t *testing.T) {
	rows := []model.ReviewRow{
		{Word: "定期", Sentence: "a"},
		{Word: "鼎盛", Sentence: "b"},
		{Word: "定期", Sentence: "c"},
	}
	groups := groupByWord(rows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0].Rows) != 2 || groups[0].Rows[1].Sentence != "c" {
		t.Errorf("group order lost: %+v", groups[0])
	}
}

func TestUpdateSentence(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/review/sentence", map[string]string{
		"timestamp": "ts-2",
		"sentence":  "廟宇香火【鼎盛】，遊人如鯽。",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(e.sheet.marks) != 1 {
		t.Fatalf("expected 1 mark call, got %d", len(e.sheet.marks))
	}
	m := e.sheet.marks[0]
	if m.status != model.StatusReady || m.sentences["ts-2"] == "" {
		t.Errorf("mark = %+v", m)
	}
}

func TestCreateBatch(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/batches", map[string]string{"school": "一小", "level": "P4"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	b := decodeBody[model.Batch](t, resp)
	if len(b.Questions) != 2 || b.Status != model.BatchLoaded {
		t.Errorf("batch = %+v", b)
	}

	stored, err := e.store.GetBatch(b.ID)
	if err != nil || stored == nil {
		t.Fatalf("batch not persisted: %v", err)
	}
	if len(e.sheet.marks) != 1 || e.sheet.marks[0].status != model.StatusLoaded {
		t.Errorf("marks = %+v", e.sheet.marks)
	}
}

func TestCreateBatchNoQuestions(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/batches", map[string]string{"school": "一小", "level": "P6"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func createBatch(t *testing.T, e *testEnv) model.Batch {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/batches", map[string]string{"school": "一小", "level": "P4"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create batch: status = %d", resp.StatusCode)
	}
	return decodeBody[model.Batch](t, resp)
}

func TestWorksheetDownloads(t *testing.T) {
	e := newTestEnv(t)
	b := createBatch(t, e)

	for _, path := range []string{
		"/batches/" + b.ID + "/worksheet.pdf",
		"/batches/" + b.ID + "/answerkey.pdf",
	} {
		resp := e.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			t.Fatal(err)
		}
		if string(buf) != "%PDF" {
			t.Errorf("%s: body does not start with %%PDF", path)
		}
	}

	resp := e.do(t, http.MethodGet, "/batches/"+b.ID+"/worksheet.rtf", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rtf: status = %d", resp.StatusCode)
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != `{\rtf1` {
		t.Errorf("rtf body starts with %q", buf)
	}
}

func TestDownloadMissingBatch(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/batches/nope/worksheet.pdf", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSendBatch(t *testing.T) {
	e := newTestEnv(t)
	b := createBatch(t, e)

	resp := e.do(t, http.MethodPost, "/batches/"+b.ID+"/send", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["sent"].(float64) != 1 || body["skipped"].(float64) != 1 || body["failed"].(float64) != 0 {
		t.Errorf("summary = %+v", body)
	}
	if len(e.mailer.sent) != 1 || e.mailer.sent[0] != "parent1@example.com" {
		t.Errorf("mailer.sent = %v", e.mailer.sent)
	}

	stored, err := e.store.GetBatch(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.BatchSent {
		t.Errorf("batch status = %q, want sent", stored.Status)
	}

	deliveries, err := e.store.ListDeliveries(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliveries) != 2 {
		t.Fatalf("expected 2 delivery records, got %d", len(deliveries))
	}
	var skipped *model.Delivery
	for i := range deliveries {
		if deliveries[i].Status == model.DeliverySkipped {
			skipped = &deliveries[i]
		}
	}
	if skipped == nil || !strings.Contains(skipped.Detail, "not-an-email") {
		t.Errorf("skipped delivery = %+v", skipped)
	}

	last := e.sheet.marks[len(e.sheet.marks)-1]
	if last.status != model.StatusSent {
		t.Errorf("final mark status = %q, want Sent", last.status)
	}

	// A second send on the same batch must be rejected.
	resp = e.do(t, http.MethodPost, "/batches/"+b.ID+"/send", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resend: status = %d, want 409", resp.StatusCode)
	}
}

func TestResetBatch(t *testing.T) {
	e := newTestEnv(t)
	b := createBatch(t, e)

	resp := e.do(t, http.MethodPost, "/batches/"+b.ID+"/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stored, err := e.store.GetBatch(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.BatchReset {
		t.Errorf("batch status = %q, want reset", stored.Status)
	}
	last := e.sheet.marks[len(e.sheet.marks)-1]
	if last.status != model.StatusReady {
		t.Errorf("final mark status = %q, want Ready", last.status)
	}

	// Reset is terminal too.
	resp = e.do(t, http.MethodPost, "/batches/"+b.ID+"/reset", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double reset: status = %d, want 409", resp.StatusCode)
	}
}

func TestSuggest(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/suggest", map[string]any{
		"word": "努力", "school": "一小", "level": "P4", "count": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(e.sheet.appended) != 1 {
		t.Fatalf("expected 1 append call, got %d", len(e.sheet.appended))
	}
	if e.sheet.appended[0][2] != "努力" {
		t.Errorf("appended = %v", e.sheet.appended[0])
	}
}

func TestRefresh(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/refresh", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if e.sheet.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", e.sheet.refreshes)
	}
}
