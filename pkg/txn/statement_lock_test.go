package txn_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxBogovick/relmem/pkg/txn"
)

func TestStatementLock_ExclusiveWritersSerialize(t *testing.T) {
	var lock txn.StatementLock
	var counter int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.WriteLock()
			defer lock.WriteUnlock()
			v := atomic.AddInt32(&counter, 1)
			time.Sleep(time.Microsecond)
			if v != 1 {
				t.Errorf("expected exclusive access, saw concurrent counter %d", v)
			}
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()
}

func TestStatementLock_ReadersDoNotBlockEachOther(t *testing.T) {
	var lock txn.StatementLock
	lock.ReadLock()
	defer lock.ReadUnlock()

	done := make(chan struct{})
	go func() {
		lock.ReadLock()
		lock.ReadUnlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a second reader to proceed while the first read lock is held")
	}
}
