package protocol

import "time"

// TranslateRequest asks a worker to translate a recording. Paths refer to
// storage shared between the requester and the workers.
type TranslateRequest struct {
	RequestID  string `json:"request_id"`
	InputPath  string `json:"input_path"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	OutputPath string `json:"output_path"`
	ASRModel   string `json:"asr_model,omitempty"`
}

// TranslateStatus reports one state transition of a running request.
type TranslateStatus struct {
	RequestID string    `json:"request_id"`
	From      string    `json:"from"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TranslateResult is the final outcome of a request.
type TranslateResult struct {
	RequestID        string    `json:"request_id"`
	Source           string    `json:"source"`
	Target           string    `json:"target"`
	Route            string    `json:"route,omitempty"`
	SourceText       string    `json:"source_text"`
	TranslatedText   string    `json:"translated_text"`
	OutputPath       string    `json:"output_path,omitempty"`
	OutputDurationMS int64     `json:"output_duration_ms"`
	Error            string    `json:"error,omitempty"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// WorkerAnnounce advertises what a worker can run.
type WorkerAnnounce struct {
	WorkerID       string    `json:"worker_id"`
	ASR            string    `json:"asr"`
	MT             string    `json:"mt"`
	TTS            string    `json:"tts"`
	Languages      []string  `json:"languages"`
	MaxConcurrency int       `json:"max_concurrency"`
	Timestamp      time.Time `json:"timestamp"`
}

type WorkerHeartbeat struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranslateRequest      = "s2s.translate.request"
	SubjectTranslateStatusPrefix = "s2s.translate.status"
	SubjectTranslateResult       = "s2s.translate.result"

	SubjectWorkerAnnounce        = "s2s.workers.announce"
	SubjectWorkerHeartbeatPrefix = "s2s.workers.heartbeat"

	// StreamResults retains published results in JetStream when available.
	StreamResults = "S2S_RESULTS"
)

// StatusSubject returns the subject carrying transitions for one request.
func StatusSubject(requestID string) string {
	return SubjectTranslateStatusPrefix + "." + requestID
}

// HeartbeatSubject returns the subject one worker heartbeats on.
func HeartbeatSubject(workerID string) string {
	return SubjectWorkerHeartbeatPrefix + "." + workerID
}
