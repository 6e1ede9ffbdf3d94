package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/docforge/internal/jobs"
)

// handleHealth は依存先を確認し、1つでも失敗していれば 503 を返します。
func (s *server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":  state,
		"service": serviceName,
		"version": serviceVersion,
		"checks":  checks,
	})
}

func (s *server) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "ファイルサイズが上限を超えています。")
			return
		}
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "file フィールドにファイルを指定してください。")
		return
	}
	src, err := header.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "アップロードされたファイルを読み取れませんでした。")
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "アップロードされたファイルを読み取れませんでした。")
		return
	}

	up := jobs.Upload{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}
	if userID := strings.TrimSpace(c.PostForm("userId")); userID != "" {
		up.UserID = &userID
	}
	file, err := s.jobs.UploadFile(c.Request.Context(), s.bucket, up)
	if err != nil {
		var ve *jobs.ValidationError
		if errors.As(err, &ve) {
			respondValidation(c, ve)
			return
		}
		s.logger.Error("upload failed", "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ファイルの保存に失敗しました。")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        file.ID,
		"name":      file.OriginalName,
		"size":      file.Size,
		"mimeType":  file.MimeType,
		"expiresAt": file.ExpiresAt,
	})
}

func (s *server) downloadFile(c *gin.Context) {
	fileID := strings.TrimSpace(c.Param("id"))
	file, data, err := s.jobs.OpenFile(c.Request.Context(), fileID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			respondError(c, http.StatusNotFound, "FILE_NOT_FOUND", "指定されたファイルは存在しないか、保存期限が切れています。")
			return
		}
		s.logger.Error("download failed", "file_id", fileID, "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ファイルの取得に失敗しました。")
		return
	}

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	encodedName := url.PathEscape(file.OriginalName)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", asciiName(file.OriginalName), encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-File-Id", file.ID)
	c.Data(http.StatusOK, contentType, data)
}

func (s *server) createJob(c *gin.Context) {
	var req jobs.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", "リクエストボディの JSON が不正です。")
		return
	}
	job, err := s.jobs.CreateJob(c.Request.Context(), req)
	switch {
	case errors.Is(err, jobs.ErrDispatchGap) && job != nil:
		// ジョブは保存済みだがキュー投入に失敗した
		c.JSON(http.StatusAccepted, gin.H{
			"job":     job,
			"warning": "ジョブは登録されましたが、処理キューへの投入に失敗しました。",
		})
		return
	case err != nil:
		var ve *jobs.ValidationError
		if errors.As(err, &ve) {
			respondValidation(c, ve)
			return
		}
		s.logger.Error("create job failed", "type", req.Type, "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ジョブの登録に失敗しました。")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *server) jobStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("id"))
	view, err := s.jobs.GetJobStatus(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "指定されたジョブは存在しません。")
			return
		}
		s.logger.Error("job status failed", "job_id", jobID, "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ジョブ情報の取得に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *server) deleteJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("id"))
	err := s.jobs.DeleteJob(c.Request.Context(), jobID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, jobs.ErrNotFound):
		respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "指定されたジョブは存在しません。")
	case errors.Is(err, jobs.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "JOB_PROCESSING", "処理中のジョブは削除できません。")
	default:
		s.logger.Error("delete job failed", "job_id", jobID, "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ジョブの削除に失敗しました。")
	}
}

func (s *server) userJobs(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	limit := jobs.MaxHistory
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_INPUT", "limit には正の整数を指定してください。")
			return
		}
		limit = n
	}
	list, err := s.jobs.ListUserJobs(c.Request.Context(), userID, limit)
	if err != nil {
		s.logger.Error("list jobs failed", "user_id", userID, "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "ジョブ履歴の取得に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *server) systemStats(c *gin.Context) {
	stats, err := s.jobs.GetSystemStats(c.Request.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "統計情報の取得に失敗しました。")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

func respondValidation(c *gin.Context, ve *jobs.ValidationError) {
	body := gin.H{
		"code":    "INVALID_INPUT",
		"message": ve.Message,
	}
	if ve.Field != "" {
		body["field"] = ve.Field
	}
	c.JSON(http.StatusBadRequest, body)
}

// asciiName は filename= に入れられない文字を _ に置き換えます。
func asciiName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}
