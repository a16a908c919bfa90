package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/pipeline"
)

const testFixture = "../internal/ledger/testdata/ledger.yaml"

func TestCollectProductIDs(t *testing.T) {
	ids, err := collectProductIDs([]string{"sku-1"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sku-1"}, ids)

	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("sku-2\nsku-3\n"), 0o644))
	ids, err = collectProductIDs([]string{"sku-1"}, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sku-1", "sku-2", "sku-3"}, ids)

	_, err = collectProductIDs(nil, "")
	assert.Error(t, err)

	_, err = collectProductIDs(nil, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func sampleBatch() []pipeline.BatchItem {
	return []pipeline.BatchItem{
		{
			ProductID: "sku-1",
			Result: &pipeline.Result{
				Snapshot:       &model.ProductSnapshot{ProductID: "sku-1", Status: model.StatusSold},
				Assessment:     &model.ConfidenceAssessment{ProductID: "sku-1", Score: 55, RiskTier: model.RiskMedium},
				Recommendation: model.Recommendation{Action: model.ActionProceedWithCaution},
			},
		},
		{ProductID: "sku-2", Err: eris.Wrap(model.ErrNotFound, "ledger: product sku-2")},
	}
}

func TestWriteAssessments(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeAssessments(&buf, "csv", "", sampleBatch()))
	assert.Contains(t, buf.String(), "sku-1,sold,55.00,medium,proceed_with_caution")

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	buf.Reset()
	require.NoError(t, writeAssessments(&buf, "json", jsonPath, sampleBatch()))
	assert.Empty(t, buf.String())
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Len(t, out, 2)

	xlsxPath := filepath.Join(dir, "out.xlsx")
	require.NoError(t, writeAssessments(&buf, "xlsx", xlsxPath, sampleBatch()))
	f, err := xlsx.OpenFile(xlsxPath)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	assert.Len(t, f.Sheets[0].Rows, 3)
}

func TestBatchError(t *testing.T) {
	assert.NoError(t, batchError(nil))
	assert.NoError(t, batchError(sampleBatch()[:1]))

	err := batchError(sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 product(s)")
}

func TestAssessCommand_EndToEnd(t *testing.T) {
	t.Setenv("PROVENANCE_LEDGER_DRIVER", "fixture")
	t.Setenv("PROVENANCE_LEDGER_FIXTURE_PATH", testFixture)
	t.Setenv("PROVENANCE_LOG_LEVEL", "error")

	out := filepath.Join(t.TempDir(), "assessments.json")
	rootCmd.SetArgs([]string{"assess", "sku-1001", "sku-2002", "--format", "json", "--output", out})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		assessFormat, assessOutput, assessInput = "table", "", ""
	})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var items []struct {
		ProductID string `json:"product_id"`
		Result    struct {
			Assessment model.ConfidenceAssessment `json:"assessment"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "sku-1001", items[0].ProductID)
	assert.Equal(t, "sku-2002", items[1].ProductID)
	assert.Greater(t, items[0].Result.Assessment.Score, items[1].Result.Assessment.Score)
}
