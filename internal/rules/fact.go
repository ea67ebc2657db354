package rules

// ValidationStatus tags how much a row can be trusted.
type ValidationStatus string

const (
	StatusOK    ValidationStatus = "ok"
	StatusWarn  ValidationStatus = "warn"
	StatusError ValidationStatus = "error"
)

// FactRow is one normalized order line for a period.
type FactRow struct {
	Year            int     `json:"year"`
	Month           int     `json:"month"`
	OrderID         string  `json:"order_id"`
	LineCount       *int    `json:"line_count"`
	LineNo          *int    `json:"line_no"`
	InternalSKU     string  `json:"internal_sku"`
	FinCode         string  `json:"fin_code"`
	QtySold         float64 `json:"qty_sold"`
	RecvCustomer    float64 `json:"recv_customer"`
	RecvPlatform    float64 `json:"recv_platform"`
	ExtraCharge     float64 `json:"extra_charge"`
	FeePlatformComm float64 `json:"fee_platform_comm"`
	FeeAffiliate    float64 `json:"fee_affiliate"`
	FeeOther        float64 `json:"fee_other"`
	NetReceived     float64 `json:"net_received"`

	Platform   string `json:"platform"`
	TenantID   string `json:"tenant_id"`
	UploadID   string `json:"upload_id"`
	JobID      string `json:"job_id"`
	RowKey     string `json:"row_key"`
	RowHash    string `json:"row_hash"`
	SourceFile string `json:"source_file,omitempty"`
	SourceLine *int   `json:"source_line,omitempty"`

	RuleVersion        string           `json:"rule_version,omitempty"`
	ValidationStatus   ValidationStatus `json:"validation_status,omitempty"`
	ValidationWarnings []string         `json:"validation_warnings,omitempty"`
}

// LineNoOrZero returns the line number, 0 when the platform has none.
func (r FactRow) LineNoOrZero() int {
	if r.LineNo == nil {
		return 0
	}
	return *r.LineNo
}

func intPtr(v int) *int { return &v }
