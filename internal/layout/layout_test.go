package layout

import (
	"testing"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionPath(t *testing.T) {
	id := models.Identity{Exchange: "binance", Market: "spot", Symbol: "btc/usdt"}
	p := PartitionPath("/data", id, "raw", "1m", 0)
	assert.Equal(t, "/data/BINANCE/SPOT/BTC_USDT/RAW/1m/1970/01/01/BTC_USDT_1m_19700101.parquet", p)
}

func TestPartitionPathNoPeriod(t *testing.T) {
	id := models.Identity{Exchange: "binance", Market: "future", Symbol: "BTCUSDT"}
	p := PartitionPath("/data", id, "funding", "", 0)
	assert.Equal(t, "/data/BINANCE/FUTURE/BTCUSDT/FUNDING/1970/01/01/BTCUSDT_19700101.parquet", p)
}

func TestDayStart(t *testing.T) {
	assert.Equal(t, int64(0), DayStart(0))
	assert.Equal(t, int64(0), DayStart(DayMs-1))
	assert.Equal(t, int64(DayMs), DayStart(DayMs))
	assert.Equal(t, int64(DayMs), DayStart(2*DayMs-1))
}

func TestParsePathRoundTrip(t *testing.T) {
	id := models.Identity{Exchange: "binance", Market: "spot", Symbol: "BTC_USDT"}
	p := PartitionPath("/data", id, "raw", "1m", DayMs)

	parsed, err := ParsePath("/data", p)
	require.NoError(t, err)
	assert.Equal(t, id.Normalize(), parsed.Identity)
	assert.Equal(t, "RAW", parsed.DataType)
	assert.Equal(t, "1m", parsed.Period)
	assert.Equal(t, int64(DayMs), parsed.DayStartMs)
}

func TestParsePathNotUnderRoot(t *testing.T) {
	_, err := ParsePath("/data", "/other/file.parquet")
	assert.Error(t, err)
}
