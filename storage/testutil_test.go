package storage

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"abit/bmaddr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _ := newMockedStore(t)
	return store
}

func newMockedStore(t *testing.T, opts ...Option) (*Store, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))

	dataDir := t.TempDir()
	store, _, err := Open(dataDir, append([]Option{WithClock(mock)}, opts...)...)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store, mock
}

// testAddress builds a valid canonical address whose ripe is filled with the
// given byte.
func testAddress(t *testing.T, version, stream uint64, fill byte) string {
	t.Helper()

	ripe := make([]byte, bmaddr.RipeLength)
	for i := range ripe {
		ripe[i] = fill
	}
	encoded, err := bmaddr.Encode(version, stream, ripe)
	if err != nil {
		t.Fatalf("encode test address: %v", err)
	}
	return encoded
}

func mustSaveAddress(t *testing.T, store *Store, address *Address) {
	t.Helper()

	if err := store.SaveAddress(address); err != nil {
		t.Fatalf("save address %q: %v", address.Address, err)
	}
}

func mustLabel(t *testing.T, store *Store, labelType string) Label {
	t.Helper()

	label, err := store.GetLabel(labelType)
	if err != nil {
		t.Fatalf("get label of type %q: %v", labelType, err)
	}
	return *label
}

func mustSaveMessage(t *testing.T, store *Store, message *Message) {
	t.Helper()

	if err := store.SaveMessage(message); err != nil {
		t.Fatalf("save message: %v", err)
	}
}

func testObject(stream uint64, fill byte, expires int64) *Object {
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = fill
	}
	return &Object{
		Hash:    hash,
		Stream:  stream,
		Expires: expires,
		Data:    []byte{fill, fill, fill},
		Type:    2, // msg
		Version: 3,
	}
}
