package broker

import (
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/coredaemon/taskd/internal/contract"
)

func newTestBroker() *Broker {
	return New(hclog.NewNullLogger())
}

func TestLookupHierarchy(t *testing.T) {
	b := newTestBroker()
	if _, err := b.CreateService(RootContextID, "job-root", "s1", false); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if _, err := b.CheckIn(RootContextID, "job-root", "s1"); err != nil {
		t.Fatalf("checkin s1: %v", err)
	}

	child, err := b.Subset(RootContextID, "job-child")
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	if _, err := b.CreateService(child.ID, "job-child", "s2", false); err != nil {
		t.Fatalf("create s2: %v", err)
	}
	if _, err := b.CheckIn(child.ID, "job-child", "s2"); err != nil {
		t.Fatalf("checkin s2: %v", err)
	}

	if _, ok := b.LookUp(child.ID, "s1"); !ok {
		t.Fatal("expected lookup(C1, s1) to resolve via parent walk")
	}
	if _, ok := b.LookUp(RootContextID, "s2"); ok {
		t.Fatal("expected lookup(root, s2) to be UnknownService — children are not visible from parents")
	}
}

func TestServiceNameUniquePerContext(t *testing.T) {
	b := newTestBroker()
	if _, err := b.CreateService(RootContextID, "job-a", "dup", false); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := b.CreateService(RootContextID, "job-b", "dup", false); err != contract.ErrServiceActive {
		t.Fatalf("expected ErrServiceActive for duplicate name, got %v", err)
	}
}

func TestHideUntilCheckInInvisible(t *testing.T) {
	b := newTestBroker()
	if _, err := b.CreateService(RootContextID, "job-a", "hidden", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := b.LookUp(RootContextID, "hidden"); ok {
		t.Fatal("expected hidden service to be invisible before checkin")
	}
	if _, err := b.CheckIn(RootContextID, "job-a", "hidden"); err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if _, ok := b.LookUp(RootContextID, "hidden"); !ok {
		t.Fatal("expected service visible after checkin")
	}
}

func TestCheckInRejectsNonOwner(t *testing.T) {
	b := newTestBroker()
	b.CreateService(RootContextID, "job-a", "svc", false)
	if _, err := b.CheckIn(RootContextID, "job-b", "svc"); err != contract.ErrNotPrivileged {
		t.Fatalf("expected ErrNotPrivileged, got %v", err)
	}
}

func TestLookUpArrayLengthAndAllKnown(t *testing.T) {
	b := newTestBroker()
	b.CreateService(RootContextID, "job-a", "known", false)
	b.CheckIn(RootContextID, "job-a", "known")

	ports, allKnown, err := b.LookUpArray(RootContextID, []string{"known", "missing"}, MaxTestLookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ports) != 2 {
		t.Fatalf("expected result vector length 2, got %d", len(ports))
	}
	if allKnown {
		t.Fatal("expected allKnown false when one name is missing")
	}
}

func TestLookUpArrayRejectsOversizedBatch(t *testing.T) {
	b := newTestBroker()
	names := make([]string, 5)
	_, _, err := b.LookUpArray(RootContextID, names, 3)
	if err != contract.ErrBadCount {
		t.Fatalf("expected ErrBadCount, got %v", err)
	}
}

func TestSubsetCollapseDropsDescendantServices(t *testing.T) {
	b := newTestBroker()
	child, err := b.Subset(RootContextID, "job-child")
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	b.CreateService(child.ID, "job-child", "s", false)
	b.CheckIn(child.ID, "job-child", "s")

	dropped := b.RemoveContext(child.ID)
	if len(dropped) != 1 || dropped[0] != "s" {
		t.Fatalf("expected service s to be dropped, got %v", dropped)
	}
	if _, ok := b.LookUp(child.ID, "s"); ok {
		t.Fatal("expected service to be unreachable after context removal")
	}
}

// MaxTestLookup stands in for supervisor.MaxLookup to keep this package
// test-independent of internal/supervisor.
const MaxTestLookup = 1024
