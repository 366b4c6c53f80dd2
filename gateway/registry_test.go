package gateway

import (
	"testing"

	"github.com/criyle/judge-gateway/types"
)

func TestRegistryArbitration(t *testing.T) {
	r := NewRegistry()
	s := newSession(&fakeConn{}, types.WorkerIdentity{Name: "w"})
	r.add(s)

	t1 := &types.Task{TaskID: "t1"}
	t2 := &types.Task{TaskID: "t2"}
	if !r.addPending(s, t1) || !r.addPending(s, t2) {
		t.Fatal("addPending() = false on active session")
	}

	// ack wins for t1, a later drop does nothing
	if !r.ack(s, "t1") {
		t.Fatal("ack() = false")
	}
	if r.dropPending(s, "t1") {
		t.Fatal("dropPending() = true after ack")
	}
	if got, pending := r.lookup("t1"); got != s || pending {
		t.Fatalf("lookup(t1) = %v, %v", got, pending)
	}

	// disconnect wins for t2, a later ack does nothing
	pending, running, ok := r.take(s)
	if !ok || len(pending) != 1 || pending[0].TaskID != "t2" || len(running) != 1 || running[0] != "t1" {
		t.Fatalf("take() = %v, %v, %v", pending, running, ok)
	}
	if r.ack(s, "t2") {
		t.Fatal("ack() = true after take")
	}
	if _, _, ok := r.take(s); ok {
		t.Fatal("second take() = true")
	}
	if r.addPending(s, &types.Task{TaskID: "t3"}) {
		t.Fatal("addPending() = true on removed session")
	}
	if got, _ := r.lookup("t1"); got != nil {
		t.Fatal("running task of removed session still indexed")
	}
}

func TestRegistryFinish(t *testing.T) {
	r := NewRegistry()
	s := newSession(&fakeConn{}, types.WorkerIdentity{Name: "w"})
	r.add(s)
	r.addPending(s, &types.Task{TaskID: "t1"})
	r.ack(s, "t1")
	r.finish(s, "t1")
	if got, _ := r.lookup("t1"); got != nil {
		t.Fatal("finished task still indexed")
	}
	if l := r.List(); len(l) != 1 || len(l[0].Running) != 0 {
		t.Fatalf("List() = %+v", l)
	}
}
