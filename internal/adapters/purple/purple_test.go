package purple

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/converter"
	"github.com/digitraceslab/koota/internal/safehash"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envelopeBody(t *testing.T, payload string, tamper bool) []byte {
	t.Helper()
	env := Envelope{Operation: "SubmitProbes", UserHash: "user", Payload: payload}
	env.Checksum = Checksum(env.UserHash, env.Operation, env.Payload)
	if tamper {
		env.Payload += " "
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestPreIngestUnwrapsEnvelope(t *testing.T) {
	a := New()
	payload := `[{"PROBE":"x","TIMESTAMP":1}]`

	res, err := a.PreIngest(context.Background(), adapter.IngestRequest{
		Body:     envelopeBody(t, payload, false),
		DeviceID: "0123456789abcd",
	})
	require.NoError(t, err)
	assert.Equal(t, payload, string(res.Payload))
	assert.Equal(t, "0123456789abcd", res.DeviceID)
	require.NotNil(t, res.Response)
	assert.Equal(t, http.StatusOK, res.Response.Status)

	var reply Reply
	require.NoError(t, json.Unmarshal(res.Response.Body, &reply))
	assert.Equal(t, StatusSuccess, reply.Status)
	assert.Equal(t, Checksum(reply.Status, reply.Payload), reply.Checksum)
	assert.NotContains(t, string(res.Response.Body), "0123456789abcd")
}

func TestPreIngestRejectsBadChecksum(t *testing.T) {
	_, err := New().PreIngest(context.Background(), adapter.IngestRequest{Body: envelopeBody(t, "[]", true)})
	var perr *adapter.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Checksum mismatch", perr.Reason)

	_, err = New().PreIngest(context.Background(), adapter.IngestRequest{Body: []byte("nope")})
	require.ErrorAs(t, err, &perr)
}

func packet(data string) converter.Packet {
	return converter.Packet{TS: time.Unix(1714550400, 0), Data: []byte(data)}
}

func TestBatteryIsolatesMalformedPacket(t *testing.T) {
	d, ok := converter.Find(New().Converters(), "battery")
	require.True(t, ok)
	c := d.Build(converter.Params{})

	in := converter.NewSliceSource([]converter.Packet{
		packet(`[{"PROBE":"` + ProbeBattery + `","TIMESTAMP":1714550400,"LEVEL":90}]`),
		packet(`[{"PROBE":`),
		packet(`[{"PROBE":"` + ProbeBattery + `","TIMESTAMP":1714550460,"LEVEL":89},{"PROBE":"` + ProbeScreen + `","TIMESTAMP":1714550461}]`),
	})
	rows, errs, err := converter.NewRunner(zap.NewNop()).Collect(context.Background(), "battery", c, in)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 90.0, rows[0][1])
	assert.Equal(t, 89.0, rows[1][1])
	require.Equal(t, 1, errs.Total)
	require.Len(t, errs.Counts, 1)
	for _, n := range errs.Counts {
		assert.Equal(t, 1, n)
	}
}

func TestProbesAndWifi(t *testing.T) {
	h := safehash.NewHasher("salt")
	data := `[{"PROBE":"` + ProbeWifi + `","TIMESTAMP":10,"CURRENT_SSID":"home","CURRENT_BSSID":"aa"},
		{"PROBE":"` + ProbeWifi + `","TIMESTAMP":20,"CURRENT_SSID":"work","CURRENT_BSSID":"bb"},
		{"PROBE":"` + ProbeScreen + `","TIMESTAMP":30}]`

	d, _ := converter.Find(New().Converters(), "probes")
	rows, _, err := converter.NewRunner(nil).Collect(context.Background(), "probes", d.Build(converter.Params{}),
		converter.NewSliceSource([]converter.Packet{packet(data)}))
	require.NoError(t, err)
	assert.Equal(t, []converter.Row{{ProbeScreen, 1}, {ProbeWifi, 2}}, rows)

	d, _ = converter.Find(New().Converters(), "wifi")
	rows, _, err = converter.NewRunner(nil).Collect(context.Background(), "wifi", d.Build(converter.Params{Hasher: h}),
		converter.NewSliceSource([]converter.Packet{packet(data)}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, h.Hash("home"), rows[0][1])
	assert.Equal(t, 10.0, rows[0][0])
}
