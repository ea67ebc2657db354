package rowidentity

import (
	"testing"

	"github.com/smallbiznis/settlr/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	line := 2
	assert.Equal(t, "wechat_video:W1:SKU-1:2", Key("wechat_video", "W1", "SKU-1", &line))
	assert.Equal(t, "douyin:D1:SKU-1", Key("douyin", "D1", "SKU-1", nil))
}

func TestHashIgnoresProvenance(t *testing.T) {
	a := rules.FactRow{OrderID: "O1", QtySold: 1, RecvCustomer: 10, NetReceived: 10, SourceFile: "a.csv"}
	b := a
	b.SourceFile = "b.csv"
	b.JobID = "job-2"
	b.FinCode = "X"
	assert.Equal(t, Hash(a), Hash(b))

	b.NetReceived = 10.01
	assert.NotEqual(t, Hash(a), Hash(b))
}

func TestHashIsStable(t *testing.T) {
	r := rules.FactRow{QtySold: 2, RecvCustomer: 200, ExtraCharge: 10}
	assert.Equal(t, Hash(r), Hash(r))
	assert.Len(t, Hash(r), 64)
}

func TestStamp(t *testing.T) {
	line := 1
	rows := []rules.FactRow{{Platform: "xiaohongshu", OrderID: "O1", InternalSKU: "A-1", LineNo: &line, QtySold: 1}}
	Stamp(rows, Provenance{TenantID: "t1", UploadID: "u1", JobID: "job-1"})

	require.Len(t, rows, 1)
	assert.Equal(t, "xiaohongshu", rows[0].Platform)
	assert.Equal(t, "t1", rows[0].TenantID)
	assert.Equal(t, "u1", rows[0].UploadID)
	assert.Equal(t, "job-1", rows[0].JobID)
	assert.Equal(t, "xiaohongshu:O1:A-1:1", rows[0].RowKey)
	assert.Equal(t, Hash(rows[0]), rows[0].RowHash)
}
