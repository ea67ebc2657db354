package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/settlr/internal/aggregate"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/rules"
)

func (s *Server) GetDataset(c *gin.Context) {
	key, err := periodKey(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	d, err := s.datasets.GetActive(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if d == nil {
		AbortWithError(c, datasetdomain.ErrDatasetNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": d, "job_ids": d.JobIDs()})
}

// ClearDataset supersedes the active record. A missing period is reported
// as 404 with status not_found, never as a server error.
func (s *Server) ClearDataset(c *gin.Context) {
	key, err := periodKey(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	res, err := s.datasets.Clear(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == datasetdomain.ClearOutcomeNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"data": res})
}

func (s *Server) ListFacts(c *gin.Context) {
	key, err := periodKey(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rows, err := s.builder.Facts(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rows == nil {
		rows = []rules.FactRow{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) ListAggregates(c *gin.Context) {
	key, err := periodKey(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rows, err := s.builder.Aggregates(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rows == nil {
		rows = []aggregate.Row{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "totals": aggregate.Totals(rows)})
}

func (s *Server) DownloadReport(c *gin.Context) {
	key, err := periodKey(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := s.reports.MonthlyPDF(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	name := fmt.Sprintf("%s-%s-%04d-%02d.pdf", key.TenantID, key.Platform, key.Year, key.Month)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/pdf", doc)
}
