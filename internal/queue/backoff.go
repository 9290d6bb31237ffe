package queue

import (
	"runtime"
	"time"

	"code.hybscloud.com/spin"
)

// spinPause issues one CPU pause instruction via the spin package, the same
// primitive the FAA-based queue algorithms use while racing a concurrent
// producer/consumer for a slot.
func spinPause() {
	sw := spin.Wait{}
	sw.Once()
}

func osYield() {
	runtime.Gosched()
}

func sleepShort() {
	time.Sleep(50 * time.Microsecond)
}
