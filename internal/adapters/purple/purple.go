// Package purple implements the PurpleRobot upload protocol.
package purple

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/digitraceslab/koota/internal/adapter"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/goccy/go-json"
)

const Name = "purple"

var Registration = adapter.Registration{
	Name:        Name,
	Aliases:     []string{"PurpleRobot", "koota.devices.purple.PurpleRobot"},
	Description: "PurpleRobot (Android)",
	Default:     false,
	Model:       adapter.ModelDevice,
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the request body the client posts.
type Envelope struct {
	Operation string `json:"Operation"`
	UserHash  string `json:"UserHash"`
	Payload   string `json:"Payload"`
	Checksum  string `json:"Checksum"`
}

// Reply is what the client expects back.
type Reply struct {
	Status   string `json:"Status"`
	Payload  string `json:"Payload"`
	Checksum string `json:"Checksum"`
}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

// Checksum is md5 over the concatenated parts, hex encoded.
func Checksum(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func NewReply(status, payload string) Reply {
	return Reply{Status: status, Payload: payload, Checksum: Checksum(status, payload)}
}

// PreIngest unwraps the envelope. The envelope may be the raw body or the
// json form field. The stored payload is the inner probe list.
func (a *Adapter) PreIngest(ctx context.Context, req adapter.IngestRequest) (*adapter.PreIngestResult, error) {
	body := req.Body
	if req.HTTP != nil {
		if v := req.HTTP.PostFormValue("json"); v != "" {
			body = []byte(v)
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, adapter.NewProtocolError("Invalid envelope")
	}
	if !strings.EqualFold(env.Checksum, Checksum(env.UserHash, env.Operation, env.Payload)) {
		return nil, adapter.NewProtocolError("Checksum mismatch")
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = env.UserHash
	}
	raw, err := json.Marshal(NewReply(StatusSuccess, "{}"))
	if err != nil {
		return nil, err
	}
	return &adapter.PreIngestResult{
		Payload:  []byte(env.Payload),
		DeviceID: deviceID,
		Response: &adapter.Response{Status: http.StatusOK, ContentType: "application/json", Body: raw},
	}, nil
}

func (a *Adapter) ScanOrder() string { return rawdomain.OrderReceived }
