package storage

import (
	"bytes"
	"errors"
	"testing"
)

func testPowItem(fill byte) *PowItem {
	hash := make([]byte, 64)
	for i := range hash {
		hash[i] = fill
	}
	return &PowItem{
		InitialHash:        hash,
		Data:               []byte("object payload"),
		Version:            3,
		NonceTrialsPerByte: 1000,
		ExtraBytes:         1000,
		ExpirationTime:     1_700_100_000,
	}
}

func TestPutAndGetPowItem(t *testing.T) {
	store := newTestStore(t)
	item := testPowItem(0x01)

	if err := store.PutPowItem(item); err != nil {
		t.Fatalf("PutPowItem failed: %v", err)
	}

	loaded, err := store.GetPowItem(item.InitialHash)
	if err != nil {
		t.Fatalf("GetPowItem failed: %v", err)
	}
	if !bytes.Equal(loaded.Data, item.Data) ||
		loaded.NonceTrialsPerByte != item.NonceTrialsPerByte ||
		loaded.ExtraBytes != item.ExtraBytes ||
		loaded.ExpirationTime != item.ExpirationTime {
		t.Fatalf("loaded item does not match: %+v", loaded)
	}
	if loaded.MessageID != nil || loaded.Message != nil {
		t.Fatalf("expected an unlinked item, got message id %v", loaded.MessageID)
	}
}

func TestPutPowItemIgnoresDuplicates(t *testing.T) {
	store := newTestStore(t)
	item := testPowItem(0x02)

	if err := store.PutPowItem(item); err != nil {
		t.Fatalf("PutPowItem failed: %v", err)
	}

	duplicate := testPowItem(0x02)
	duplicate.Data = []byte("different payload")
	if err := store.PutPowItem(duplicate); err != nil {
		t.Fatalf("duplicate PutPowItem must be a no-op, got %v", err)
	}

	loaded, err := store.GetPowItem(item.InitialHash)
	if err != nil {
		t.Fatalf("GetPowItem failed: %v", err)
	}
	if !bytes.Equal(loaded.Data, item.Data) {
		t.Fatalf("duplicate insert must not overwrite the stored item")
	}
}

func TestGetPowItemResolvesLinkedMessage(t *testing.T) {
	store := newTestStore(t)
	sender := testAddress(t, 4, 1, 0x03)

	message := inboundMessage(t, store, testIV(0x03), sender, 1000)
	message.Status = StatusDoingProofOfWork
	mustSaveMessage(t, store, message)

	item := testPowItem(0x03)
	item.MessageID = &message.ID
	if err := store.PutPowItem(item); err != nil {
		t.Fatalf("PutPowItem failed: %v", err)
	}

	loaded, err := store.GetPowItem(item.InitialHash)
	if err != nil {
		t.Fatalf("GetPowItem failed: %v", err)
	}
	if loaded.MessageID == nil || *loaded.MessageID != message.ID {
		t.Fatalf("expected linked message id %d, got %v", message.ID, loaded.MessageID)
	}
	if loaded.Message == nil || loaded.Message.ID != message.ID {
		t.Fatalf("expected the linked message to be resolved")
	}
}

func TestPowItemSurvivesLinkedMessageDeletion(t *testing.T) {
	store := newTestStore(t)
	sender := testAddress(t, 4, 1, 0x04)

	message := inboundMessage(t, store, testIV(0x04), sender, 1000)
	mustSaveMessage(t, store, message)

	item := testPowItem(0x04)
	item.MessageID = &message.ID
	if err := store.PutPowItem(item); err != nil {
		t.Fatalf("PutPowItem failed: %v", err)
	}

	if err := store.RemoveMessage(message); err != nil {
		t.Fatalf("RemoveMessage failed: %v", err)
	}

	// The message foreign key is severed, the pending work remains.
	loaded, err := store.GetPowItem(item.InitialHash)
	if err != nil {
		t.Fatalf("GetPowItem after message deletion failed: %v", err)
	}
	if loaded.MessageID != nil || loaded.Message != nil {
		t.Fatalf("expected the message link to be cleared, got %v", loaded.MessageID)
	}
}

func TestGetPowItemsAndRemove(t *testing.T) {
	store := newTestStore(t)

	first := testPowItem(0x05)
	second := testPowItem(0x06)
	for _, item := range []*PowItem{first, second} {
		if err := store.PutPowItem(item); err != nil {
			t.Fatalf("PutPowItem failed: %v", err)
		}
	}

	hashes, err := store.GetPowItems()
	if err != nil {
		t.Fatalf("GetPowItems failed: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(hashes))
	}

	if err := store.RemovePowItem(first.InitialHash); err != nil {
		t.Fatalf("RemovePowItem failed: %v", err)
	}
	if _, err := store.GetPowItem(first.InitialHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}

	// Removing an item twice is fine.
	if err := store.RemovePowItem(first.InitialHash); err != nil {
		t.Fatalf("repeated RemovePowItem must be a no-op, got %v", err)
	}

	hashes, err = store.GetPowItems()
	if err != nil {
		t.Fatalf("GetPowItems failed: %v", err)
	}
	if len(hashes) != 1 || !bytes.Equal(hashes[0], second.InitialHash) {
		t.Fatalf("expected only the second item to remain")
	}
}
