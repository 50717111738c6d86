package inproc

import "testing"

func TestWatchCancelReturnsTableEmpty(t *testing.T) {
	table := NewTable()
	_, cancelDead := table.WatchDeadName(1)
	_, cancelNoSenders := table.WatchNoSenders(1)
	_, cancelMsg := table.WatchMessage(1)

	if len(table.deadName[1]) != 1 || len(table.noSenders[1]) != 1 || len(table.messages[1]) != 1 {
		t.Fatal("expected exactly one watch registered per table after Watch*")
	}

	cancelDead()
	cancelNoSenders()
	cancelMsg()

	if len(table.deadName[1]) != 0 || len(table.noSenders[1]) != 0 || len(table.messages[1]) != 0 {
		t.Fatal("expected watch count to return to zero after cancel")
	}
}

func TestFireClosesAndClearsWatch(t *testing.T) {
	table := NewTable()
	ch, _ := table.WatchDeadName(2)
	table.FireDeadName(2)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed on fire")
	}
	if len(table.deadName[2]) != 0 {
		t.Fatal("expected watch removed from table after firing")
	}
}

func TestHasQueuedMessagesClearsOnRearm(t *testing.T) {
	table := NewTable()
	table.WatchMessage(3)
	if table.HasQueuedMessages(3) {
		t.Fatal("expected no queued message before any fire")
	}

	table.FireMessage(3)
	if !table.HasQueuedMessages(3) {
		t.Fatal("expected a queued message after fire")
	}

	table.WatchMessage(3)
	if table.HasQueuedMessages(3) {
		t.Fatal("expected re-arming WatchMessage to clear the queued flag")
	}
}
