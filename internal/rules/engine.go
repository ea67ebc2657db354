package rules

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/settlr/internal/config"
	"github.com/smallbiznis/settlr/internal/sheet"
)

// statusColumns are the order-status headers checked by the cancelled filter.
var statusColumns = []string{"订单状态", "Order Status"}

// Input is one job's worth of raw rows.
type Input struct {
	Settlement []sheet.Row
	Orders     []sheet.Row
	// Year and Month are the job period.
	Year  int
	Month int

	SourceFile string
}

// Options tune validation and filtering.
type Options struct {
	ClosureTolerance  float64
	CancelledStatuses []string
}

func DefaultOptions() Options {
	d := config.DefaultRulesConfig()
	return Options{
		ClosureTolerance:  d.ClosureTolerance,
		CancelledStatuses: d.CancelledStatuses,
	}
}

// Result is the transform output. Skipped counts cancelled rows filtered
// before transformation; every other input row yields exactly one output row
// unless it falls outside the job period.
type Result struct {
	Rows     []FactRow
	Warnings []string
	Skipped  int
}

// Counts tallies rows per validation status.
func (r Result) Counts() map[ValidationStatus]int {
	out := map[ValidationStatus]int{}
	for _, row := range r.Rows {
		out[row.ValidationStatus]++
	}
	return out
}

// Engine transforms raw exports into fact rows.
type Engine struct {
	holder *config.RulesHolder
}

// NewEngine reads options from holder on every call so hot reloads apply to the next job.
func NewEngine(holder *config.RulesHolder) *Engine {
	return &Engine{holder: holder}
}

// Options returns the current tuning, re-read from the holder.
func (e *Engine) Options() Options {
	if e == nil || e.holder == nil {
		return DefaultOptions()
	}
	cfg := e.holder.Get()
	return Options{
		ClosureTolerance:  cfg.ClosureTolerance,
		CancelledStatuses: cfg.CancelledStatuses,
	}
}

// Transform runs the platform rules over in.
func (e *Engine) Transform(p Platform, in Input) (Result, error) {
	return Transform(p, in, e.Options())
}

// sourceRow keeps the 1-based spreadsheet line (header is line 1).
type sourceRow struct {
	row  sheet.Row
	line int
}

// Transform is the stateless form of Engine.Transform.
func Transform(p Platform, in Input, opts Options) (Result, error) {
	if len(in.Settlement) == 0 {
		return Result{}, ErrEmptyFile
	}
	if p.RequiresOrders() && len(in.Orders) == 0 {
		return Result{}, ErrMissingOrdersFile
	}

	rows, skipped := filterCancelled(in.Settlement, opts.CancelledStatuses)
	t := &transformer{
		platform: p,
		in:       in,
		opts:     opts,
		result:   Result{Skipped: skipped},
	}
	if skipped > 0 {
		t.result.Warnings = append(t.result.Warnings, fmt.Sprintf("skipped %d cancelled/refunded rows", skipped))
	}

	switch p {
	case PlatformXiaohongshu:
		transformXiaohongshu(t, rows)
	case PlatformWechatVideo:
		transformWechatVideo(t, rows)
	case PlatformDouyin:
		transformDouyin(t, rows)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, string(p))
	}
	return t.result, nil
}

type transformer struct {
	platform Platform
	in       Input
	opts     Options
	result   Result
}

// emit validates and appends a computed row.
func (t *transformer) emit(r FactRow, src sourceRow) {
	t.stamp(&r, src)
	warnings := Validate(r, t.opts.ClosureTolerance)
	if len(warnings) > 0 {
		r.ValidationStatus = StatusWarn
		r.ValidationWarnings = warnings
		for _, w := range warnings {
			t.warnf(src.line, "%s", w)
		}
	} else {
		r.ValidationStatus = StatusOK
	}
	t.result.Rows = append(t.result.Rows, r)
}

// emitError appends a zero-valued placeholder so the row count still matches the input.
func (t *transformer) emitError(r FactRow, src sourceRow, err error) {
	t.stamp(&r, src)
	r.QtySold, r.RecvCustomer, r.RecvPlatform, r.ExtraCharge = 0, 0, 0, 0
	r.FeePlatformComm, r.FeeAffiliate, r.FeeOther, r.NetReceived = 0, 0, 0, 0
	r.ValidationStatus = StatusError
	r.ValidationWarnings = []string{err.Error()}
	t.warnf(src.line, "parse error - %v", err)
	t.result.Rows = append(t.result.Rows, r)
}

func (t *transformer) stamp(r *FactRow, src sourceRow) {
	r.Platform = string(t.platform)
	r.RuleVersion = t.platform.RuleVersion()
	r.SourceFile = t.in.SourceFile
	r.SourceLine = intPtr(src.line)
}

func (t *transformer) warnf(line int, format string, args ...any) {
	t.result.Warnings = append(t.result.Warnings, fmt.Sprintf("line %d: ", line)+fmt.Sprintf(format, args...))
}

// compute runs fn and converts a panic into a row-level error.
func compute(fn func() (FactRow, error)) (row FactRow, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("unexpected value: %v", rec)
		}
	}()
	return fn()
}

func filterCancelled(rows []sheet.Row, statuses []string) ([]sourceRow, int) {
	cancelled := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		if s = strings.TrimSpace(s); s != "" {
			cancelled[s] = struct{}{}
		}
	}

	out := make([]sourceRow, 0, len(rows))
	skipped := 0
	for i, r := range rows {
		if len(cancelled) > 0 {
			if _, ok := cancelled[r.String(statusColumns...)]; ok {
				skipped++
				continue
			}
		}
		out = append(out, sourceRow{row: r, line: i + 2})
	}
	return out, skipped
}

// cellError reports spreadsheet error literals (#DIV/0!, #REF!, #VALUE!, ...)
// in any of the given columns. Those cells cannot be coerced meaningfully.
func cellError(r sheet.Row, columns ...string) error {
	for _, c := range columns {
		v := r.String(c)
		if strings.HasPrefix(v, "#") && (strings.HasSuffix(v, "!") || strings.HasSuffix(v, "?") || v == "#N/A") {
			return fmt.Errorf("column %s holds spreadsheet error %s", c, v)
		}
	}
	return nil
}
