package irmd

import (
	"sync"
	"time"
)

// waitUntil blocks on cond.Wait() but guarantees the caller wakes by
// deadline even with no intervening Broadcast, the idiomatic
// sync.Cond-with-timeout pattern replacing the C original's
// pthread_cond_timedwait at the flow_accept and flow_alloc suspension
// points.
func waitUntil(mu *sync.Mutex, cond *sync.Cond, deadline time.Time) {
	timer := time.AfterFunc(time.Until(deadline), cond.Broadcast)
	defer timer.Stop()
	cond.Wait()
}
