package storage

import (
	"testing"
)

func TestGetLabelsFiltersByType(t *testing.T) {
	store := newTestStore(t)

	labels, err := store.GetLabels(LabelTypeInbox, LabelTypeTrash)
	if err != nil {
		t.Fatalf("GetLabels failed: %v", err)
	}
	if len(labels) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(labels))
	}
	if labels[0].Type != LabelTypeInbox || labels[1].Type != LabelTypeTrash {
		t.Fatalf("labels are not ordered by rank: %+v", labels)
	}

	if _, err := store.GetLabels("NONSENSE"); err == nil {
		t.Fatalf("expected invalid label type to be rejected")
	}
}

func TestGetLabelByType(t *testing.T) {
	store := newTestStore(t)

	unread, err := store.GetLabel(LabelTypeUnread)
	if err != nil {
		t.Fatalf("GetLabel failed: %v", err)
	}
	if unread.ID == 0 || unread.Text != "Unread" {
		t.Fatalf("unexpected unread label: %+v", unread)
	}
}

func TestSaveLabelMatchesExistingText(t *testing.T) {
	store := newTestStore(t)

	// Re-initializing a system label by text must reuse the seeded row.
	inbox := &Label{Text: "Inbox", Type: LabelTypeInbox, Color: 0x11223344, Ord: 0}
	if err := store.SaveLabel(inbox); err != nil {
		t.Fatalf("SaveLabel failed: %v", err)
	}

	seeded := mustLabel(t, store, LabelTypeInbox)
	if inbox.ID != seeded.ID {
		t.Fatalf("expected save to adopt seeded id %d, got %d", seeded.ID, inbox.ID)
	}
	if seeded.Color != 0x11223344 {
		t.Fatalf("expected color update, got %#x", seeded.Color)
	}

	labels, err := store.GetLabels()
	if err != nil {
		t.Fatalf("GetLabels failed: %v", err)
	}
	if len(labels) != 7 {
		t.Fatalf("expected no duplicate rows, got %d labels", len(labels))
	}
}

func TestSaveLabelInsertsCustomLabel(t *testing.T) {
	store := newTestStore(t)

	custom := &Label{Text: "Work", Color: 0x00ff0000, Ord: 50}
	if err := store.SaveLabel(custom); err != nil {
		t.Fatalf("SaveLabel failed: %v", err)
	}
	if custom.ID == 0 {
		t.Fatalf("expected inserted label to receive an id")
	}

	custom.Text = "Work stuff"
	if err := store.SaveLabel(custom); err != nil {
		t.Fatalf("SaveLabel update failed: %v", err)
	}

	labels, err := store.GetLabels()
	if err != nil {
		t.Fatalf("GetLabels failed: %v", err)
	}
	if len(labels) != 8 {
		t.Fatalf("expected 8 labels, got %d", len(labels))
	}

	var found bool
	for _, label := range labels {
		if label.ID == custom.ID {
			found = true
			if label.Text != "Work stuff" {
				t.Fatalf("expected renamed label, got %q", label.Text)
			}
			if label.Type != "" {
				t.Fatalf("custom label must not carry a system type, got %q", label.Type)
			}
		}
	}
	if !found {
		t.Fatalf("custom label %d not listed", custom.ID)
	}
}

func TestArchiveFilterIsNotALabel(t *testing.T) {
	archive := FilterArchive()
	if !archive.IsArchive() {
		t.Fatalf("expected archive filter to report IsArchive")
	}

	store := newTestStore(t)
	inbox := mustLabel(t, store, LabelTypeInbox)
	if FilterLabel(inbox).IsArchive() {
		t.Fatalf("label filter must not report IsArchive")
	}

	// Archive is never persisted: the label table stays untouched.
	labels, err := store.GetLabels()
	if err != nil {
		t.Fatalf("GetLabels failed: %v", err)
	}
	for _, label := range labels {
		if label.Text == "archive" {
			t.Fatalf("archive must not appear as a stored label")
		}
	}

	if _, err := store.GetLabel(""); err == nil {
		t.Fatalf("expected empty label type lookup to fail")
	}
}
