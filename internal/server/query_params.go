package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	datasetdomain "github.com/smallbiznis/settlr/internal/dataset/domain"
	"github.com/smallbiznis/settlr/internal/rules"
)

// periodKey reads /:tenant/:platform/:year/:month.
func periodKey(c *gin.Context) (datasetdomain.Key, error) {
	tenant := strings.TrimSpace(c.Param("tenant"))
	if tenant == "" {
		return datasetdomain.Key{}, newValidationError("tenant", "invalid_tenant", "tenant is required")
	}
	platform, err := rules.ParsePlatform(c.Param("platform"))
	if err != nil {
		return datasetdomain.Key{}, newValidationError("platform", "invalid_platform", "unsupported platform")
	}
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 2000 || year > 2100 {
		return datasetdomain.Key{}, newValidationError("year", "invalid_year", "invalid year")
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil || month < 1 || month > 12 {
		return datasetdomain.Key{}, newValidationError("month", "invalid_month", "invalid month")
	}
	return datasetdomain.Key{
		TenantID: tenant,
		Platform: platform.String(),
		Year:     year,
		Month:    month,
	}, nil
}
