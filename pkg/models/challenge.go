package models

import "time"

// Challenge is a single proof-of-work puzzle issuance. It lives in the TTL
// store keyed by nonce until it is solved or expires.
type Challenge struct {
	Nonce         string    `json:"nonce"`
	Identity      string    `json:"-"`
	IssuedAt      time.Time `json:"-"`
	Difficulty    int       `json:"difficulty"`
	SecretVersion int       `json:"secretVersion"`
}

// Signals is the telemetry record submitted alongside a PoW solution.
// Every field is optional; a missing field is a penalty signal, never an error.
type Signals struct {
	UserAgent           string  `json:"userAgent"`
	CanvasHash          string  `json:"canvasHash"`
	HardwareConcurrency int     `json:"hardwareConcurrency"`
	DeviceMemory        float64 `json:"deviceMemory"`
	BehaviorEntropy     float64 `json:"behaviorEntropy"`
	TimingOK            bool    `json:"timingOk"`
	WorkerOK            bool    `json:"workerOk"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Nonce    string  `json:"nonce"`
	Counter  string  `json:"counter"`
	Hash     string  `json:"hash"`
	Identity string  `json:"identity"`
	Signals  Signals `json:"signals"`
}
