package pdf

import "github.com/yourusername/docforge/internal/registry"

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// progressFor は stage をデバッグログに残しつつ、リクエストの進捗コールバックへ転送します。
func (s *Service) progressFor(req *registry.Request) ProgressReporter {
	log := s.logger.With("job_id", req.JobID)
	return func(stage string, percent int) {
		log.Debug("progress", "stage", stage, "percent", percent)
		req.ReportProgress(percent)
	}
}

// stepProgress は i 番目 (0始まり) / n 件目の処理が終わった時点の進捗を from〜to の範囲で返します。
func stepProgress(from, to, i, n int) int {
	if n <= 0 {
		return to
	}
	return from + (to-from)*(i+1)/n
}
