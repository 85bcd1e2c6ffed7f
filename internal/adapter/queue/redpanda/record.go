package redpanda

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

// Record header keys.
const (
	HeaderRequestedBy = "requested_by"
	HeaderErrorCode   = "error_code"
	HeaderError       = "error"
	HeaderAttempts    = "attempts"
	HeaderSourceTopic = "source_topic"
)

func encodeRequest(topic string, req domain.AssessmentRequest) (*kgo.Record, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	rec := &kgo.Record{Topic: topic, Value: b}
	if req.RequestedBy != "" {
		rec.Key = []byte(req.RequestedBy)
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: HeaderRequestedBy, Value: []byte(req.RequestedBy)})
	}
	return rec, nil
}

func decodeRequest(rec *kgo.Record) (domain.AssessmentRequest, error) {
	var req domain.AssessmentRequest
	if err := json.Unmarshal(rec.Value, &req); err != nil {
		return domain.AssessmentRequest{}, fmt.Errorf("%w: decode assessment request: %v", domain.ErrInvalidArgument, err)
	}
	if req.NumQuestions < 0 {
		return domain.AssessmentRequest{}, fmt.Errorf("%w: numQuestions must not be negative", domain.ErrInvalidArgument)
	}
	return req, nil
}

// deadLetter copies rec onto the dead-letter topic with failure headers.
func deadLetter(rec *kgo.Record, cause error, attempts int) *kgo.Record {
	headers := make([]kgo.RecordHeader, 0, len(rec.Headers)+4)
	headers = append(headers, rec.Headers...)
	headers = append(headers,
		kgo.RecordHeader{Key: HeaderErrorCode, Value: []byte(classifyFailure(cause))},
		kgo.RecordHeader{Key: HeaderError, Value: []byte(cause.Error())},
		kgo.RecordHeader{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
		kgo.RecordHeader{Key: HeaderSourceTopic, Value: []byte(rec.Topic)},
	)
	return &kgo.Record{
		Topic:   rec.Topic + DLQSuffix,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: headers,
	}
}

func header(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
