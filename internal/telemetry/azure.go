// v2
// internal/telemetry/azure.go
package telemetry

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const azureAPIVersion = "2021-04-12"

// AzureHost expands a bare hub name to its FQDN.
func AzureHost(hub string) string {
	if strings.Contains(hub, ".") {
		return hub
	}
	return hub + ".azure-devices.net"
}

// AzureTopic is the device-to-cloud events topic.
func AzureTopic(deviceID string) string {
	return "devices/" + deviceID + "/messages/events/"
}

// AzureC2DTopic is the cloud-to-device filter a device subscribes to.
func AzureC2DTopic(deviceID string) string {
	return "devices/" + deviceID + "/messages/devicebound/#"
}

// AzureUsername is the MQTT username IoT Hub expects for a device connection.
func AzureUsername(hub, deviceID string) string {
	return AzureHost(hub) + "/" + deviceID + "/?api-version=" + azureAPIVersion
}

// SASToken signs "<host>/devices/<device>" with the base64 device key, valid until expiry.
func SASToken(hub, deviceID, key string, expiry time.Time) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("device key is not base64: %w", err)
	}
	resource := url.QueryEscape(AzureHost(hub) + "/devices/" + deviceID)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, raw)
	mac.Write([]byte(resource + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return "SharedAccessSignature sr=" + resource + "&sig=" + url.QueryEscape(sig) + "&se=" + se, nil
}

// SASExpiry reads the se field of a SAS token.
func SASExpiry(token string) (time.Time, error) {
	q, err := url.ParseQuery(strings.TrimPrefix(token, "SharedAccessSignature "))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed sas token: %w", err)
	}
	se, err := strconv.ParseInt(q.Get("se"), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("sas token has no valid se field: %w", err)
	}
	return time.Unix(se, 0).UTC(), nil
}

// AzureOptions builds MQTTSink options for an IoT Hub device. A given token wins over the
// key and is sent as is on every connect. With a device key each connect attempt signs a
// fresh token valid for ttl, so a session dropped at token expiry can be re-established.
func AzureOptions(hub, deviceID, key, token string, ttl, timeout time.Duration) (MQTTOptions, error) {
	host := AzureHost(hub)
	opts := MQTTOptions{
		Broker:            "ssl://" + host + ":8883",
		ClientID:          deviceID,
		ReconnectClientID: deviceID,
		Username:          AzureUsername(hub, deviceID),
		Password:          token,
		TLS:               &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		ConnectTimeout:    timeout,
		QoS:               1,
		Subscribe:         AzureC2DTopic(deviceID),
	}
	if token != "" {
		return opts, nil
	}
	if _, err := base64.StdEncoding.DecodeString(key); err != nil {
		return MQTTOptions{}, fmt.Errorf("device key is not base64: %w", err)
	}
	opts.PasswordFunc = func(now time.Time) (string, error) {
		return SASToken(hub, deviceID, key, now.Add(ttl))
	}
	return opts, nil
}
