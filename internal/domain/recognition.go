package domain

import "time"

// RecognitionResult is the external recognition service's answer for one
// session. Scores arrive from an untrusted source; the gateway validates the
// range before this struct exists. Only the derived decision is persisted;
// the result itself lives no longer than the session.
type RecognitionResult struct {
	SessionID  SessionID
	Score      float64 // in [0,1]
	Attributes map[string]string
	ReturnedAt time.Time
}
