package store

import (
	"testing"

	"github.com/google/uuid"

	"github.com/tclam/worksheet/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch() model.Batch {
	return model.Batch{
		ID:     uuid.NewString(),
		School: "一小",
		Level:  "P4",
		Status: model.BatchLoaded,
		Questions: []model.Question{
			{Word: "定期", Content: "小明【定期】檢查牙齒。"},
			{Word: "鼎盛", Content: "廟宇香火【鼎盛】。"},
		},
		RowKeys: []string{"ts-1", "ts-2"},
	}
}

func TestBatchRoundTrip(t *testing.T) {
	s := newTestStore(t)
	b := testBatch()

	if err := s.CreateBatch(b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	got, err := s.GetBatch(b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got == nil {
		t.Fatal("batch not found")
	}
	if got.School != b.School || got.Level != b.Level || got.Status != model.BatchLoaded {
		t.Errorf("batch = %+v", got)
	}
	if len(got.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(got.Questions))
	}
	if got.Questions[0].Word != "定期" || got.Questions[1].Word != "鼎盛" {
		t.Errorf("question order lost: %+v", got.Questions)
	}
	if got.Questions[0].School != "一小" {
		t.Errorf("question school not filled: %+v", got.Questions[0])
	}
	if len(got.RowKeys) != 2 || got.RowKeys[0] != "ts-1" {
		t.Errorf("row keys = %v", got.RowKeys)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetBatch("missing")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListBatchesAndStatus(t *testing.T) {
	s := newTestStore(t)
	b1, b2 := testBatch(), testBatch()
	b2.School = "二小"
	if err := s.CreateBatch(b1); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateBatch(b2); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListBatches()
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(list))
	}

	if err := s.UpdateBatchStatus(b1.ID, model.BatchSent); err != nil {
		t.Fatalf("UpdateBatchStatus: %v", err)
	}
	got, err := s.GetBatch(b1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.BatchSent {
		t.Errorf("status = %q, want sent", got.Status)
	}
}

func TestDeliveries(t *testing.T) {
	s := newTestStore(t)
	b := testBatch()
	if err := s.CreateBatch(b); err != nil {
		t.Fatal(err)
	}

	for _, d := range []model.Delivery{
		{BatchID: b.ID, StudentName: "陳小明", Email: "parent@example.com", Status: model.DeliverySent},
		{BatchID: b.ID, StudentName: "李大文", Email: "bad", Status: model.DeliverySkipped, Detail: "invalid email"},
	} {
		if _, err := s.AddDelivery(d); err != nil {
			t.Fatalf("AddDelivery: %v", err)
		}
	}

	list, err := s.ListDeliveries(b.ID)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(list))
	}
	if list[1].Status != model.DeliverySkipped || list[1].Detail != "invalid email" {
		t.Errorf("delivery = %+v", list[1])
	}
}

func TestUsersAndSessions(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil || count != 0 {
		t.Fatalf("UserCount = %d, %v", count, err)
	}

	id, err := s.CreateUser(model.User{Username: "admin", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByUsername("admin")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("user = %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil for missing user, got %+v, %v", missing, err)
	}

	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.UserID != id {
		t.Fatalf("session = %+v", sess)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, err = s.GetAuthSession(token)
	if err != nil || sess != nil {
		t.Errorf("expected nil after delete, got %+v, %v", sess, err)
	}
}
