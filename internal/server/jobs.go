package server

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/settlr/internal/intake"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
)

type createJobRequest struct {
	TenantID    string              `json:"tenant_id"`
	Platform    string              `json:"platform"`
	Year        int                 `json:"year"`
	Month       int                 `json:"month"`
	Mode        string              `json:"mode"`
	UploadID    string              `json:"upload_id"`
	RequestedBy string              `json:"requested_by"`
	Files       []jobdomain.FileRef `json:"files"`
}

// CreateJob accepts either JSON referencing already stored objects or a
// multipart form carrying the exports as "settlement" and "orders" parts.
func (s *Server) CreateJob(c *gin.Context) {
	var (
		req createJobRequest
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req, err = s.bindMultipartJob(c)
	} else if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		err = invalidRequestError()
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.intake.Submit(c.Request.Context(), intake.Request{
		TenantID:    req.TenantID,
		Platform:    req.Platform,
		Year:        req.Year,
		Month:       req.Month,
		Mode:        req.Mode,
		UploadID:    req.UploadID,
		Files:       req.Files,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("job_id", job.ID)
	c.JSON(http.StatusAccepted, gin.H{"data": job})
}

func (s *Server) bindMultipartJob(c *gin.Context) (createJobRequest, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		return createJobRequest{}, invalidRequestError()
	}

	req := createJobRequest{
		TenantID:    strings.TrimSpace(c.PostForm("tenant_id")),
		Platform:    strings.TrimSpace(c.PostForm("platform")),
		Mode:        strings.TrimSpace(c.PostForm("mode")),
		UploadID:    strings.TrimSpace(c.PostForm("upload_id")),
		RequestedBy: strings.TrimSpace(c.PostForm("requested_by")),
	}
	if req.Year, err = strconv.Atoi(strings.TrimSpace(c.PostForm("year"))); err != nil {
		return createJobRequest{}, newValidationError("year", "invalid_year", "invalid year")
	}
	if req.Month, err = strconv.Atoi(strings.TrimSpace(c.PostForm("month"))); err != nil {
		return createJobRequest{}, newValidationError("month", "invalid_month", "invalid month")
	}

	for _, kind := range []jobdomain.FileKind{jobdomain.FileSettlement, jobdomain.FileOrders} {
		headers := form.File[string(kind)]
		if len(headers) == 0 {
			continue
		}
		ref, err := s.storeUpload(c, req.TenantID, kind, headers[0])
		if err != nil {
			return createJobRequest{}, err
		}
		req.Files = append(req.Files, ref)
	}
	return req, nil
}

func (s *Server) storeUpload(c *gin.Context, tenantID string, kind jobdomain.FileKind, fh *multipart.FileHeader) (jobdomain.FileRef, error) {
	f, err := fh.Open()
	if err != nil {
		return jobdomain.FileRef{}, invalidRequestError()
	}
	defer f.Close()
	return s.intake.Upload(c.Request.Context(), tenantID, kind, fh.Filename, f)
}

func (s *Server) GetJob(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if job == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.Set("job_id", job.ID)
	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (s *Server) ListJobs(c *gin.Context) {
	var filter jobdomain.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	jobs, page, err := s.jobs.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs, "page_info": page})
}
