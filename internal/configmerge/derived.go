package configmerge

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	credentialIterations = 10000
	credentialBytes      = 16
)

// Derived field names.
const (
	KeyWebserviceServer = "webservice_server"
	KeyStudyStart       = "study_start"
	KeyDeviceLabel      = "device_label"
	KeyMQTTUsername     = "mqtt_username"
	KeyMQTTPassword     = "mqtt_password"
	KeyStatusESM        = "status_esm"
)

// DevicePassword derives a credential from the device secret. The salt mixes
// the process device key with the public id so every device differs.
func DevicePassword(secretID, publicID, deviceKey string) string {
	key := pbkdf2.Key([]byte(secretID), []byte(deviceKey+publicID), credentialIterations, credentialBytes, sha256.New)
	return hex.EncodeToString(key)
}
