package aware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	"github.com/digitraceslab/koota/internal/configmerge"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	devicerepo "github.com/digitraceslab/koota/internal/device/repository"
	deviceservice "github.com/digitraceslab/koota/internal/device/service"
	ingestservice "github.com/digitraceslab/koota/internal/ingest/service"
	"github.com/digitraceslab/koota/internal/ratelimit"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	rawrepo "github.com/digitraceslab/koota/internal/rawdata/repository"
	"github.com/digitraceslab/koota/internal/safehash"
	"github.com/digitraceslab/koota/pkg/db/dbtest"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	adapter *Adapter
	router  *gin.Engine
	store   rawdomain.Store
	devices devicedomain.Service
	clock   *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := dbtest.Open(t,
		&devicedomain.Device{}, &devicedomain.OAuthDevice{},
		&rawdomain.Packet{}, &rawdomain.Attribute{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{PublicURL: "https://koota.test", TimeZone: "UTC"}
	settings := config.DefaultSettings()
	settings.PublicApps = []string{"com.whatsapp"}

	store := rawrepo.Provide(rawrepo.Params{DB: conn, Clock: clk, GenID: node})
	devices := deviceservice.New(deviceservice.Params{
		DB: conn, Log: zap.NewNop(), Clock: clk, Repo: devicerepo.Provide(),
	})
	registry := adapter.NewRegistry()
	ingest := ingestservice.New(ingestservice.Params{
		Log:      zap.NewNop(),
		Clock:    clk,
		Store:    store,
		Devices:  devices,
		Registry: registry,
		Guard:    ratelimit.NewLocalGuard(),
	})
	merger := configmerge.New(configmerge.Params{
		Log:      zap.NewNop(),
		Settings: settings,
		Secrets:  safehash.Secrets{HashSalt: "salt", DeviceKey: "key"},
		Config:   cfg,
		Clock:    clk,
	})

	a := New(Params{
		Log:      zap.NewNop(),
		Clock:    clk,
		Config:   cfg,
		Settings: settings,
		Devices:  devices,
		Ingest:   ingest,
		Store:    store,
		Merger:   merger,
	})
	require.NoError(t, registry.Register(a, Registration))

	r := gin.New()
	a.Routes(r)
	return &fixture{adapter: a, router: r, store: store, devices: devices, clock: clk}
}

func (f *fixture) device(t *testing.T) *devicedomain.Device {
	t.Helper()
	d, err := f.devices.Create(context.Background(), devicedomain.CreateRequest{Type: Name, Owner: "alice"})
	require.NoError(t, err)
	return d
}

func (f *fixture) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestInsertThenLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t)
	require.NoError(t, f.store.AttrSet(ctx, d.ID, rawdomain.AttrLastTS("accelerometer"), "0"))

	rows := `[{"timestamp":1000,"double_values_0":0.1},{"timestamp":2000,"double_values_0":0.2},{"timestamp":3000,"double_values_0":0.3}]`
	w := f.do(http.MethodPost, "/aware/v1/"+d.ID+"/accelerometer/insert", url.Values{"device_id": {"client-uuid"}, "data": {rows}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	require.Len(t, reply, 1)
	assert.Equal(t, 3000.0, reply[0]["timestamp"])
	sum := sha256.Sum256([]byte(rows))
	assert.Equal(t, hex.EncodeToString(sum[:]), reply[0]["data_sha256"])

	w = f.do(http.MethodGet, "/aware/v1/"+d.ID+"/accelerometer/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var latest []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &latest))
	require.Len(t, latest, 1)
	assert.Equal(t, 3000.0, latest[0]["timestamp"])

	c := f.store.Scan(ctx, d.ID, rawdomain.ScanOptions{})
	require.True(t, c.Next(ctx))
	table, recs, err := DecodeEnvelope(c.Record().Payload)
	require.NoError(t, err)
	assert.Equal(t, "accelerometer", table)
	assert.Len(t, recs, 3)
	assert.False(t, c.Next(ctx))
}

func TestLatestWithoutDataIsEmpty(t *testing.T) {
	f := newFixture(t)
	d := f.device(t)

	w := f.do(http.MethodPost, "/aware/v1/"+d.ID+"/battery/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestInsertRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	d := f.device(t)

	w := f.do(http.MethodPost, "/aware/v1/abc123abc123ab/battery/insert", url.Values{"data": {"[]"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Invalid device_id checkdigits"}`, w.Body.String())

	w = f.do(http.MethodPost, "/aware/v1/"+d.ID+"/battery/insert", url.Values{"data": {"{not json"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/aware/v1/"+d.ID+"/bad.table/insert", url.Values{"data": {"[]"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterReturnsConfiguration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t)

	w := f.do(http.MethodPost, "/aware/v1/"+d.ID, url.Values{"device_id": {"client-uuid"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc, 3)
	sensors := string(doc[0]["sensors"])
	assert.Contains(t, sensors, `{"setting":"status_battery","value":"true"}`)
	assert.Contains(t, sensors, `{"setting":"webservice_server","value":"https://koota.test/aware/v1/`+d.ID+`"}`)
	assert.Contains(t, sensors, `{"setting":"device_label","value":"`+d.PublicID+`"}`)

	stored, ok, err := f.store.AttrGet(ctx, d.ID, AttrDeviceUUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "client-uuid", stored)

	// Same time of day, same bytes.
	again := f.do(http.MethodPost, "/aware/v1/"+d.ID, url.Values{"device_id": {"client-uuid"}})
	assert.Equal(t, w.Body.String(), again.Body.String())
}

func TestRegisterWithoutClientIDKeepsConfig(t *testing.T) {
	f := newFixture(t)
	d := f.device(t)

	w := f.do(http.MethodPost, "/aware/v1/"+d.ID, url.Values{})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
	assert.Contains(t, body, "config")
}

func TestTableManagementIsNoop(t *testing.T) {
	f := newFixture(t)
	d := f.device(t)

	for _, op := range []string{"create_table", "clear_table"} {
		w := f.do(http.MethodPost, "/aware/v1/"+d.ID+"/battery/"+op, url.Values{"fields": {"x"}})
		assert.Equal(t, http.StatusOK, w.Code, op)
	}
	n, err := f.store.Count(context.Background(), d.ID, rawdomain.TimeRange{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
