// Package allocator implements the availability resolver, the GPU allocation
// proposer and the commit-time capacity gate they share.
package allocator

import "github.com/NexusGPU/reserva/internal/model"

// ProposeAllocation distributes desired GB of GPU memory over the devices in
// available and returns the per-device amounts. It prefers the single tightest
// device that can hold the whole request; otherwise it consumes devices
// largest-first and tops off with the smallest device that covers the
// remainder, which keeps the allocation on as few devices as possible.
//
// The caller must ensure available.Sum() >= desired before calling, and must
// pass a copy if the original vector has to survive: available is used as
// scratch space and consumed devices are zeroed in place.
func ProposeAllocation(desired int64, available model.GPUVector) model.GPUVector {
	allocation := make(model.GPUVector, len(available))
	if desired <= 0 {
		return allocation
	}

	if i := tightestFit(available, desired); i >= 0 {
		allocation[i] = desired
		return allocation
	}

	remaining := desired
	for remaining > 0 {
		maxIndex := -1
		var maxAvail int64
		for i, avail := range available {
			if avail > maxAvail {
				maxAvail = avail
				maxIndex = i
			}
		}
		if maxIndex < 0 {
			// All devices consumed. Unreachable when the caller upheld the
			// sum precondition.
			break
		}
		allocation[maxIndex] = maxAvail
		available[maxIndex] = 0
		remaining -= maxAvail

		if remaining <= 0 {
			break
		}
		if i := tightestFit(available, remaining); i >= 0 {
			allocation[i] = remaining
			return allocation
		}
	}
	return allocation
}

// tightestFit returns the index of the smallest entry >= want, or -1.
func tightestFit(available model.GPUVector, want int64) int {
	best := -1
	var bestAvail int64
	for i, avail := range available {
		if avail >= want && (best < 0 || avail < bestAvail) {
			bestAvail = avail
			best = i
		}
	}
	return best
}
