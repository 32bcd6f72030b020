package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/google/uuid"
)

// How values are written into data_pack.
const (
	ValueFormatInt   = "int"
	ValueFormatFloat = "float"
)

// HTTPSink posts readings to the ambient-data backend.
type HTTPSink struct {
	endpoint    string
	deviceID    uuid.UUID
	valueFormat string
	client      *http.Client
}

type ambientDataRequest struct {
	DeviceID string   `json:"device_id"`
	DataType string   `json:"data_type"`
	StartTs  string   `json:"start_ts"`
	DataPack []string `json:"data_pack"`
}

func NewHTTPSink(endpoint string, deviceID uuid.UUID, valueFormat string, client *http.Client) (*HTTPSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid upload endpoint %q", endpoint)
	}
	switch valueFormat {
	case "":
		valueFormat = ValueFormatInt
	case ValueFormatInt, ValueFormatFloat:
	default:
		return nil, fmt.Errorf("invalid value format %q", valueFormat)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{
		endpoint:    endpoint,
		deviceID:    deviceID,
		valueFormat: valueFormat,
		client:      client,
	}, nil
}

// Host returns the endpoint host name without port.
func (s *HTTPSink) Host() string {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Send posts one reading. Any non-2xx answer is a *SendError.
func (s *HTTPSink) Send(ctx context.Context, reading types.Reading) error {
	body, err := json.Marshal(ambientDataRequest{
		DeviceID: s.deviceID.String(),
		DataType: reading.SensorType.RemoteName(),
		StartTs:  strconv.FormatInt(reading.Timestamp, 10),
		DataPack: []string{s.formatValue(reading.Value)},
	})
	if err != nil {
		return &SendError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &SendError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SendError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(snippet)),
		}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// The backend stores whole numbers, so values are truncated unless floats are configured.
func (s *HTTPSink) formatValue(v float64) string {
	if s.valueFormat == ValueFormatFloat {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatInt(int64(v), 10)
}
