package mempool

// Evict trims the pool down to its byte budget, dropping the lowest
// fee-rate entries first. internal/chain calls this right after
// RemoveSpent on every successful ApplyBlock, as a safety net: normal
// operation never grows the pool past maxBytes (Add already rejects
// anything that would), so this is a no-op outside of a maxBytes
// shrink at runtime.
func (p *Pool) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for p.totalBytes > p.maxBytes {
		lowest := p.lowestFeeRateLocked()
		if lowest == nil {
			break
		}
		p.removeLocked(lowest.hash)
		evicted++
	}
	return evicted
}
