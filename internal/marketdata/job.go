package marketdata

import "time"

// 任务状态。
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 是一次补数请求，时间为 Unix ms。
type FetchParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Exchange  string `json:"exchange,omitempty"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// FetchJob 记录拉取任务的进度。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Message   string      `json:"message,omitempty"`
	Missing   []Gap       `json:"missing,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Missing = append([]Gap(nil), j.Missing...)
	out.Warnings = append([]string(nil), j.Warnings...)
	return out
}

// Finished 表示任务不会再变化。
func (j FetchJob) Finished() bool {
	switch j.Status {
	case JobStatusDone, JobStatusPartial, JobStatusFailed:
		return true
	}
	return false
}
