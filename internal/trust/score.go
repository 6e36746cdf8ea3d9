package trust

import (
	"strings"
	"time"

	"github.com/org/gatekeeper/pkg/models"
)

// Indicator weights. Non-exclusive: several patterns may fire on one request.
const (
	headlessWeight     = 0.6
	automationWeight   = 0.5
	missingFieldWeight = 0.25
	burstWeight        = 2.5

	// DefaultBurstThreshold is the number of requests inside the sliding
	// window above which the burst penalty applies, absent configuration.
	DefaultBurstThreshold = 30
)

var headlessPatterns = []string{"headlesschrome", "phantomjs", "slimerjs", "electron"}

var automationPatterns = []string{"puppeteer", "playwright", "selenium", "webdriver", "python-requests", "curl/", "wget/"}

// riskDelta computes the penalty for one submission given its signals and the
// current count of requests inside the sliding window. It is deterministic:
// identical inputs always produce the identical delta.
func riskDelta(sig models.Signals, recentInWindow, burstThreshold int) float64 {
	var delta float64

	ua := strings.ToLower(sig.UserAgent)
	if ua == "" {
		delta += headlessWeight
	}
	for _, p := range headlessPatterns {
		if strings.Contains(ua, p) {
			delta += headlessWeight
		}
	}
	for _, p := range automationPatterns {
		if strings.Contains(ua, p) {
			delta += automationWeight
		}
	}

	if sig.HardwareConcurrency == 0 {
		delta += missingFieldWeight
	}
	if sig.DeviceMemory == 0 {
		delta += missingFieldWeight
	}
	if !sig.TimingOK {
		delta += missingFieldWeight
	}
	if !sig.WorkerOK {
		delta += missingFieldWeight
	}

	if recentInWindow > burstThreshold {
		delta += burstWeight
	}

	return delta
}

// ComputeRisk folds the submission's signals into the identity's cumulative
// suspicion and returns the updated score. Decay is applied first so the
// decision reads a current value.
func (l *Ledger) ComputeRisk(identity string, sig models.Signals, now time.Time) float64 {
	st := l.getOrCreate(identity)
	st.mu.Lock()
	defer st.mu.Unlock()
	l.decayLocked(st, now)

	cutoff := now.Add(-l.burstWindow)
	inWindow := 0
	for _, ts := range st.recent {
		if !ts.Before(cutoff) {
			inWindow++
		}
	}

	st.score += riskDelta(sig, inWindow, l.burstThreshold)
	return st.score
}
