package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lingopipe/internal/domain/entity"
)

type JobService interface {
	CreateJob(ctx context.Context, userID string, jobType entity.JobType, inputKey string, rawParams json.RawMessage) (*entity.Job, error)
	GetJob(ctx context.Context, jobID, userID string) (*entity.Job, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]entity.Job, error)
	DownloadURL(ctx context.Context, jobID, userID string) (string, error)
	WatchJob(ctx context.Context, jobID, userID string) (<-chan entity.JobSnapshot, func(), error)
}

type DispatchService interface {
	Dispatch(ctx context.Context, jobID, userID string) (*entity.Job, error)
}

type MediaUploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

type JobHandler struct {
	Jobs     JobService
	Dispatch DispatchService
	Media    MediaUploader
}

func NewJobHandler(jobs JobService, dispatch DispatchService, media MediaUploader) *JobHandler {
	return &JobHandler{Jobs: jobs, Dispatch: dispatch, Media: media}
}

const maxUploadBytes = 500 << 20

// UploadMedia stores a media file under the caller's namespace and returns
// the key that job creation expects as input_key.
func (h *JobHandler) UploadMedia(c *gin.Context) {
	userID := c.GetString("user_id")

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func(f multipart.File) {
		_ = f.Close()
	}(f)

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	key := fmt.Sprintf("users/%s/uploads/%s%s", userID, uuid.New().String(), filepath.Ext(file.Filename))
	contentType := file.Header.Get("Content-Type")

	if err := h.Media.Upload(c.Request.Context(), key, data, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"input_key":  key,
		"size_bytes": len(data),
		"filename":   file.Filename,
	})
}

type createJobRequest struct {
	JobType  entity.JobType  `json:"job_type" binding:"required"`
	InputKey string          `json:"input_key" binding:"required"`
	Params   json.RawMessage `json:"params"`
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	userID := c.GetString("user_id")

	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Jobs.CreateJob(c.Request.Context(), userID, req.JobType, req.InputKey, req.Params)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// DispatchJob queues a pending or failed job for processing. 202 because the
// work happens asynchronously.
func (h *JobHandler) DispatchJob(c *gin.Context) {
	userID := c.GetString("user_id")
	jobID := c.Param("job_id")

	job, err := h.Dispatch.Dispatch(c.Request.Context(), jobID, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func (h *JobHandler) GetJob(c *gin.Context) {
	userID := c.GetString("user_id")

	job, err := h.Jobs.GetJob(c.Request.Context(), c.Param("job_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	userID := c.GetString("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	jobs, err := h.Jobs.ListJobs(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *JobHandler) DownloadJob(c *gin.Context) {
	userID := c.GetString("user_id")

	url, err := h.Jobs.DownloadURL(c.Request.Context(), c.Param("job_id"), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"download_url": url, "expires_in_sec": int((24 * time.Hour).Seconds())})
}

// StreamJob pushes progress snapshots over SSE. Something goes down the wire
// at least once a second even when progress is quiet, and a final "done"
// event is sent when the job reaches a terminal state. The heartbeat re-reads
// the job row rather than replaying the last snapshot: terminal transitions
// that never hit the feed (a stale sweep, a worker dying mid-publish) still
// end the stream within a second.
func (h *JobHandler) StreamJob(c *gin.Context) {
	userID := c.GetString("user_id")
	jobID := c.Param("job_id")

	job, err := h.Jobs.GetJob(c.Request.Context(), jobID, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	snapshots, stop, err := h.Jobs.WatchJob(c.Request.Context(), jobID, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	last := job.Snapshot()
	sendSnapshot(c, last)
	if isTerminal(last.Status) {
		sendDone(c, last)
		return
	}

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			last = snap
			sendSnapshot(c, snap)
			if isTerminal(snap.Status) {
				sendDone(c, snap)
				return
			}
		case <-heartbeat.C:
			job, err := h.Jobs.GetJob(c.Request.Context(), jobID, userID)
			if err != nil {
				sendSnapshot(c, last)
				continue
			}
			last = job.Snapshot()
			sendSnapshot(c, last)
			if isTerminal(last.Status) {
				sendDone(c, last)
				return
			}
		}
	}
}

func isTerminal(status entity.JobStatus) bool {
	return status == entity.JobCompleted || status == entity.JobFailed
}

func sendSnapshot(c *gin.Context, snap entity.JobSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", data)
	c.Writer.Flush()
}

func sendDone(c *gin.Context, snap entity.JobSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: done\ndata: %s\n\n", data)
	c.Writer.Flush()
}
