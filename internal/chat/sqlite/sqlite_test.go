package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/candorchat/candor-relay/internal/chat"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConversation() *chat.Conversation {
	conv := chat.NewConversation()
	conv.Title = "Explain recursion"
	now := time.Now().UTC().Truncate(time.Second)
	conv.Messages = []chat.Message{
		{ID: "m1", Role: chat.RoleUser, Content: "Explain recursion", CreatedAt: now},
		{ID: "m2", Role: chat.RoleAssistant, Content: "Recursion is self-reference.", CreatedAt: now.Add(time.Second)},
		{
			ID: "m3", Role: chat.RoleAssistant, Content: "Here you go.",
			CreatedAt: now.Add(2 * time.Second), ImageOp: true,
			Asset: &chat.Asset{Kind: chat.AssetGenerated, URL: "blob:img"},
		},
	}
	return conv
}

func TestSaveAndListRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	conv := sampleConversation()

	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("conversation count = %d, want 1", len(got))
	}
	loaded := got[0]
	if loaded.Title != conv.Title {
		t.Errorf("title = %q, want %q", loaded.Title, conv.Title)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(loaded.Messages))
	}
	for i, m := range loaded.Messages {
		if m.ID != conv.Messages[i].ID {
			t.Errorf("message[%d] order: id = %q, want %q", i, m.ID, conv.Messages[i].ID)
		}
	}
	img := loaded.Messages[2]
	if !img.ImageOp || img.Asset == nil || img.Asset.URL != "blob:img" {
		t.Errorf("image message = %+v, want asset and flag preserved", img)
	}
}

func TestSaveReplacesGrowingMessage(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	conv := sampleConversation()

	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	conv.Messages[1].Content += " It calls itself."
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if content := got[0].Messages[1].Content; content != conv.Messages[1].Content {
		t.Errorf("content = %q, want grown message persisted", content)
	}
	if n := len(got[0].Messages); n != 3 {
		t.Errorf("message count = %d, want 3 (no duplicates on re-save)", n)
	}
}

func TestDeleteAndCurrentID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	conv := sampleConversation()

	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.SetCurrentID(ctx, conv.ID); err != nil {
		t.Fatalf("SetCurrentID() error = %v", err)
	}
	id, err := s.CurrentID(ctx)
	if err != nil || id != conv.ID {
		t.Fatalf("CurrentID() = %q, %v, want %q", id, err, conv.ID)
	}

	if err := s.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("conversation count after delete = %d, want 0", len(got))
	}
	id, err = s.CurrentID(ctx)
	if err != nil || id != "" {
		t.Errorf("CurrentID() after delete = %q, %v, want empty", id, err)
	}
}

func TestCurrentIDEmptyOnFreshStore(t *testing.T) {
	s := openStore(t)
	id, err := s.CurrentID(context.Background())
	if err != nil || id != "" {
		t.Errorf("CurrentID() = %q, %v, want empty, nil", id, err)
	}
}

func TestSaveSurfacesFailure(t *testing.T) {
	s := openStore(t)
	conv := sampleConversation()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, conv); err == nil {
		t.Fatal("Save() with canceled context reported success")
	}

	// The failed save must not have left partial state behind.
	convs, err := s.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("conversations after failed save = %d, want 0", len(convs))
	}
}

func TestSaveAfterCloseSurfacesFailure(t *testing.T) {
	s := openStore(t)
	s.Close()

	if err := s.Save(context.Background(), sampleConversation()); err == nil {
		t.Fatal("Save() on closed store reported success")
	}
	if err := s.Delete(context.Background(), "any"); err == nil {
		t.Fatal("Delete() on closed store reported success")
	}
}
