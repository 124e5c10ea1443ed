package address

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/harvard-lts/epadd/internal/document"
)

func msg(from, to string) document.Document {
	return document.NewEmailDocument("", "subject", []string{from}, []string{to},
		time.Date(1998, 1, 1, 0, 0, 0, 0, time.UTC), "INBOX", "")
}

func TestProcessContactsAndSelf(t *testing.T) {
	b := NewBook([]string{"owner@example.edu"})
	b.ProcessContactsFromMessage(msg("friend@example.org", "owner@example.edu"))
	b.ProcessContactsFromMessage(msg("Friend@Example.org", "owner@example.edu"))
	b.OrganizeContacts()

	if got, want := b.NContacts(), 2; got != want {
		t.Errorf("NContacts() = %d, want %d", got, want)
	}
	self := b.SelfContact()
	if self == nil {
		t.Fatal("SelfContact() = nil, want owner contact")
	}
	if got, want := self.MessageCount, 2; got != want {
		t.Errorf("self.MessageCount = %d, want %d", got, want)
	}
	friend := b.ContactForAddress("friend@example.org")
	if friend == nil {
		t.Fatal("ContactForAddress(friend) = nil")
	}
	if got, want := friend.MessageCount, 2; got != want {
		t.Errorf("friend.MessageCount = %d, want %d", got, want)
	}
}

func TestMergeCountsNewAndExisting(t *testing.T) {
	b := NewBook([]string{"owner@example.edu"})
	b.ProcessContactsFromMessage(msg("shared@example.org", "owner@example.edu"))

	other := NewBook(nil)
	other.ProcessContactsFromMessage(msg("shared@example.org", "newcomer@example.net"))

	result := b.Merge(other)
	if got, want := result.NContactsInAccession, 2; got != want {
		t.Errorf("NContactsInAccession = %d, want %d", got, want)
	}
	if got, want := result.NNewContacts, 1; got != want {
		t.Errorf("NNewContacts = %d, want %d", got, want)
	}
	if got, want := result.NMergedContacts, 1; got != want {
		t.Errorf("NMergedContacts = %d, want %d", got, want)
	}
	if b.ContactForAddress("newcomer@example.net") == nil {
		t.Error("merged book missing new contact")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AddressBook")
	b := NewBook([]string{"owner@example.edu"})
	b.ProcessContactsFromMessage(msg("friend@example.org", "owner@example.edu"))
	b.OrganizeContacts()
	if err := b.Save(path); err != nil {
		t.Fatalf("Save() = %v, want nil", err)
	}

	loaded, err := LoadBook(path)
	if err != nil {
		t.Fatalf("LoadBook() = %v, want nil", err)
	}
	if got, want := loaded.NContacts(), b.NContacts(); got != want {
		t.Errorf("NContacts() after load = %d, want %d", got, want)
	}
	if loaded.SelfContact() == nil {
		t.Error("SelfContact() lost across save/load")
	}
}
